//go:build !linux

package sound

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

var playMu sync.Mutex

// Play blocks until samples have been played or ctx is done. Samples are
// interleaved when channels is 2.
func Play(ctx context.Context, samples []int16, rate, channels int) error {
	if len(samples) == 0 {
		return nil
	}
	playMu.Lock()
	defer playMu.Unlock()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: %w", err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(channels)
	config.SampleRate = uint32(rate)

	var (
		mu       sync.Mutex
		pos      int
		finished = make(chan struct{})
		once     sync.Once
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			mu.Lock()
			defer mu.Unlock()
			want := int(frameCount) * channels
			i := 0
			for ; i < want && pos < len(samples); i++ {
				s := samples[pos]
				out[i*2] = byte(s)
				out[i*2+1] = byte(uint16(s) >> 8)
				pos++
			}
			for j := i * 2; j < len(out); j++ {
				out[j] = 0
			}
			if pos >= len(samples) {
				once.Do(func() { close(finished) })
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	select {
	case <-finished:
	case <-ctx.Done():
	}
	device.Stop()
	return ctx.Err()
}
