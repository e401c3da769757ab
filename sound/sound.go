// Package sound plays PCM through the system output: short cue tones around
// capture and the decoded audio of spoken replies.
package sound

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable mutes the cue tones. Play is unaffected.
func Disable() { disabled.Store(true) }

const (
	cueRate = 44100

	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End cue: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	cueOnce      sync.Once
)

func initCues() {
	startSamples = Tick(cueRate, startFreq, 0.12, startVolume, startDecay)
	endSamples = Tick(cueRate, endFreq, 0.15, endVolume, endDecay)
	errorSamples = DoubleBeep(cueRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// Tick generates a mono sine burst with an exponential decay envelope.
func Tick(rate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(rate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(rate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func DoubleBeep(rate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := Tick(rate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(rate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func cue(samples *[]int16) {
	if disabled.Load() {
		return
	}
	cueOnce.Do(initCues)
	go Play(context.Background(), *samples, cueRate, 1)
}

func PlayStart() { cue(&startSamples) }
func PlayEnd()   { cue(&endSamples) }
func PlayError() { cue(&errorSamples) }
