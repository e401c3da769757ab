//go:build linux

package sound

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// Play blocks until samples have been played or ctx is done. Samples are
// interleaved when channels is 2.
func Play(ctx context.Context, samples []int16, rate, channels int) error {
	if len(samples) == 0 {
		return nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName("antik"))
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	layout := pulse.PlaybackMono
	if channels == 2 {
		layout = pulse.PlaybackStereo
	}
	stream, err := c.NewPlayback(reader,
		layout,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	stream.Stop()
	return ctx.Err()
}
