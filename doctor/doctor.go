// Package doctor runs the diagnostic checks behind `antik doctor`.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"antik/audio"
	"antik/clipboard"
	"antik/encoder"
	"antik/hotkey"
	"antik/speech"
	"antik/transcriber"
)

type Options struct {
	Out         io.Writer
	Open        func() (audio.Context, error)
	Device      string
	Record      time.Duration
	Transcriber transcriber.Transcriber
	Speaker     speech.Speaker
	Preferred   []string
	// SkipLocal skips the hotkey and clipboard checks, which need a desktop
	// session.
	SkipLocal bool
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type runner struct {
	opts Options
	clip []byte
}

// Run executes every check and returns an exit code (0 = all pass, 1 = any
// fail). The service check uploads the audio recorded by the microphone
// check, so it is skipped when that fails.
func Run(ctx context.Context, opts Options) int {
	if opts.Record <= 0 {
		opts.Record = 2 * time.Second
	}
	r := &runner{opts: opts}

	checks := []check{
		{"Microphone", r.checkMicrophone},
		{"Transcription service", r.checkService},
		{"Speech", r.checkSpeech},
	}
	if !opts.SkipLocal {
		checks = append(checks,
			check{"Global shortcut", func(context.Context) (string, error) { return hotkey.Diagnose() }},
			check{"Clipboard", checkClipboard},
		)
	}

	fmt.Fprintln(opts.Out, "antik doctor - system diagnostics")
	fmt.Fprintln(opts.Out, "=================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(opts.Out, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		msg, err := c.run(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(opts.Out, "  FAIL: %v\n", err)
			continue
		}
		fmt.Fprintf(opts.Out, "  PASS: %s\n", msg)
	}

	fmt.Fprintln(opts.Out)
	if failed > 0 {
		fmt.Fprintf(opts.Out, "%d check(s) failed. See details above.\n", failed)
		return 1
	}
	fmt.Fprintln(opts.Out, "All checks passed!")
	return 0
}

func (r *runner) checkMicrophone(ctx context.Context) (string, error) {
	actx, err := r.opts.Open()
	if err != nil {
		return "", fmt.Errorf("cannot connect to audio: %w", err)
	}
	defer actx.Close()

	dev, err := audio.FindDevice(actx, r.opts.Device)
	if err != nil {
		return "", err
	}
	pcm, name, err := record(ctx, actx, dev, r.opts.Record)
	if err != nil {
		return "", fmt.Errorf("recording: %w", err)
	}
	if len(pcm) == 0 {
		return "", errors.New("no audio captured")
	}

	samples := audio.PCMToSamples(pcm)
	r.clip, err = encoder.EncodeFLAC(samples)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %.1fs captured, level %.3f rms, %.1f KB encoded",
		name, float64(len(samples))/encoder.SampleRate, rms(samples), float64(len(r.clip))/1024), nil
}

func (r *runner) checkService(ctx context.Context) (string, error) {
	if len(r.clip) == 0 {
		return "", errors.New("skipped: no recording to upload")
	}
	res, err := r.opts.Transcriber.Transcribe(ctx, [][]byte{r.clip})
	if err != nil {
		return "", err
	}
	text := res.Text
	if text == "" {
		text = "(no speech detected)"
	}
	msg := fmt.Sprintf("transcript %q", text)
	if m := res.Metrics; m != nil {
		msg += fmt.Sprintf(", %dms total", m.Total.Milliseconds())
	}
	return msg, nil
}

func (r *runner) checkSpeech(ctx context.Context) (string, error) {
	s := r.opts.Speaker
	if s == nil {
		return "", speech.ErrNoEngine
	}
	voices, err := s.Voices(ctx)
	if err != nil {
		return "", fmt.Errorf("listing voices: %w", err)
	}
	v := speech.PickVoice(voices, r.opts.Preferred)
	chosen := "engine default"
	if v != nil {
		chosen = v.Name
	}
	s.Speak(speech.Utterance{Text: "antik is ready", Voice: v, Rate: speech.DefaultRate, Pitch: speech.DefaultPitch})
	return fmt.Sprintf("%s engine, %d voice(s), speaking with %s", s.Name(), len(voices), chosen), nil
}

func checkClipboard(context.Context) (string, error) {
	prev, _ := clipboard.Read()
	const sentinel = "antik-doctor-test"
	if err := clipboard.Copy(sentinel); err != nil {
		return "", err
	}
	got, err := clipboard.Read()
	if prev != "" {
		_ = clipboard.Copy(prev)
	}
	if err != nil {
		return "", err
	}
	if got != sentinel {
		return "", fmt.Errorf("read back %q, want %q", got, sentinel)
	}
	return "copy and read back verified", nil
}

func record(ctx context.Context, actx audio.Context, dev *audio.DeviceInfo, d time.Duration) ([]byte, string, error) {
	capture, err := actx.NewCapture(dev, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels})
	if err != nil {
		return nil, "", err
	}
	defer capture.Close()

	var mu sync.Mutex
	var pcm []byte
	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		pcm = append(pcm, data...)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, "", err
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	capture.Stop()
	capture.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	return pcm, capture.DeviceName(), ctx.Err()
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
