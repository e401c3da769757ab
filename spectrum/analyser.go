// Package spectrum implements the frequency-analysis tap used by the
// listening visualizer.
package spectrum

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	FFTSize = 64
	Bins    = FFTSize / 2

	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser keeps the most recent FFTSize samples of a live stream and turns
// them into Bins byte magnitudes, scaled between MinDecibels and MaxDecibels
// and smoothed over time.
type Analyser struct {
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64

	mu       sync.Mutex
	ring     [FFTSize]float64
	head     int
	win      []float64
	smoothed [Bins]float64
}

func NewAnalyser() *Analyser {
	return &Analyser{
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		win:         window.Blackman(FFTSize),
	}
}

// Write appends signed 16-bit samples to the analysis window.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.head] = float64(s) / 32768.0
		a.head = (a.head + 1) % FFTSize
	}
	a.mu.Unlock()
}

// WritePCM is Write for little-endian 16-bit PCM bytes.
func (a *Analyser) WritePCM(pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	a.Write(samples)
}

// ByteFrequencyData computes the current bin magnitudes.
func (a *Analyser) ByteFrequencyData() [Bins]uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]float64, FFTSize)
	for i := range frame {
		frame[i] = a.ring[(a.head+i)%FFTSize] * a.win[i]
	}
	spectrum := fft.FFTReal(frame)

	var out [Bins]uint8
	span := a.MaxDecibels - a.MinDecibels
	for k := 0; k < Bins; k++ {
		mag := cmplx.Abs(spectrum[k]) / FFTSize
		a.smoothed[k] = a.Smoothing*a.smoothed[k] + (1-a.Smoothing)*mag

		db := a.MinDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		scaled := 255 * (db - a.MinDecibels) / span
		out[k] = uint8(math.Max(0, math.Min(255, scaled)))
	}
	return out
}

func (a *Analyser) Reset() {
	a.mu.Lock()
	a.ring = [FFTSize]float64{}
	a.smoothed = [Bins]float64{}
	a.head = 0
	a.mu.Unlock()
}
