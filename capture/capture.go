// Package capture runs a listening session: it owns the microphone, feeds the
// visualizer, and uploads the growing recording for transcription.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"antik/audio"
	"antik/encoder"
	"antik/log"
	"antik/metrics"
	"antik/sound"
	"antik/spectrum"
	"antik/speech"
	"antik/status"
	"antik/transcriber"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	DefaultSegmentInterval = 3 * time.Second
	DefaultFrameInterval   = 16 * time.Millisecond
)

type Config struct {
	SegmentInterval time.Duration
	FrameInterval   time.Duration
	Device          string
	Cues            bool
	// RecordDir, when set, receives a WAV copy of every session.
	RecordDir string
}

// Submitter takes a finalized command. It reports false when the command was
// not accepted (empty text or one already in flight).
type Submitter interface {
	Submit(ctx context.Context, text string) bool
}

type Deps struct {
	Open        func() (audio.Context, error)
	Model       *status.Model
	Transcriber transcriber.Transcriber
	Commands    Submitter
	Warmup      *speech.Warmup
	Metrics     *metrics.Metrics
	Fs          afero.Fs
}

type Pipeline struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	sess   *session
	parent context.Context
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.SegmentInterval <= 0 {
		cfg.SegmentInterval = DefaultSegmentInterval
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Pipeline{cfg: cfg, deps: deps, parent: context.Background()}
}

type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	actx     audio.Context
	dev      audio.CaptureDevice
	seg      *encoder.Segmenter
	analyser *spectrum.Analyser
	rec      *audio.Recorder

	mu       sync.Mutex
	segments [][]byte
	sent     int // sequence number of the last upload started
	applied  int // sequence number of the last upload whose result was kept

	wg sync.WaitGroup
}

// Listening reports whether a session is open.
func (p *Pipeline) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess != nil
}

// Start opens a session. Calling it while a session is open does nothing.
// When the microphone cannot be acquired the status shows "Mic Blocked", no
// session exists afterwards, and the returned error wraps
// audio.ErrDeviceDenied.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		return nil
	}
	p.parent = ctx

	if p.deps.Warmup != nil {
		p.deps.Warmup.Do()
	}

	s, err := p.open(ctx)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceDenied) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceDenied, err)
		}
		log.Errorf("capture start: %v", err)
		p.deps.Metrics.RecordCapture("denied")
		p.deps.Model.SetStatus(status.Status{State: status.Error, Message: status.MessageMicBlocked})
		if p.cfg.Cues {
			sound.PlayError()
		}
		return err
	}
	p.sess = s

	p.deps.Model.SetListening(true)
	p.deps.Model.SetStatus(status.Status{State: status.Listening, Message: status.MessageListening})
	if p.cfg.Cues {
		sound.PlayStart()
	}
	log.CaptureStart(s.id, s.dev.DeviceName())

	s.wg.Add(2)
	go p.sampleLoop(s)
	go p.segmentLoop(s)
	return nil
}

// open acquires every session resource, releasing what it already holds on
// failure.
func (p *Pipeline) open(ctx context.Context) (s *session, err error) {
	s = &session{id: uuid.NewString(), analyser: spectrum.NewAnalyser()}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	if s.actx, err = p.deps.Open(); err != nil {
		return nil, err
	}
	dev, err := audio.FindDevice(s.actx, p.cfg.Device)
	if err != nil {
		return nil, err
	}
	if s.dev, err = s.actx.NewCapture(dev, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels}); err != nil {
		return nil, err
	}
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}
	s.seg = encoder.NewSegmenter(enc)

	if p.cfg.RecordDir != "" {
		if err := p.deps.Fs.MkdirAll(p.cfg.RecordDir, 0o755); err != nil {
			log.Warnf("session recording disabled: %v", err)
		} else if rec, err := audio.NewRecorder(p.deps.Fs, filepath.Join(p.cfg.RecordDir, s.id+".wav"), encoder.SampleRate); err != nil {
			log.Warnf("session recording disabled: %v", err)
		} else {
			s.rec = rec
		}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.dev.SetCallback(func(data []byte, _ uint32) {
		s.analyser.WritePCM(data)
		s.seg.Feed(data)
		if s.rec != nil {
			if err := s.rec.Write(data); err != nil {
				log.Warnf("session recording: %v", err)
			}
		}
	})
	if err = s.dev.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// release frees device and encoder resources. Safe on partially opened
// sessions.
func (s *session) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.dev != nil {
		s.dev.ClearCallback()
		s.dev.Stop()
		s.dev.Close()
	}
	if s.actx != nil {
		s.actx.Close()
	}
	if s.seg != nil {
		s.seg.Close()
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			log.Warnf("session recording: %v", err)
		}
	}
}

func (p *Pipeline) sampleLoop(s *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(p.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			p.deps.Model.SetVisualizer(s.analyser.ByteFrequencyData())
		}
	}
}

func (p *Pipeline) segmentLoop(s *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(p.cfg.SegmentInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			p.emitSegment(s)
		}
	}
}

// emitSegment cuts the next segment and uploads everything recorded so far.
func (p *Pipeline) emitSegment(s *session) {
	seg := s.seg.Cut()
	if len(seg) == 0 {
		return
	}
	s.mu.Lock()
	s.segments = append(s.segments, seg)
	all := append([][]byte(nil), s.segments...)
	s.sent++
	seq := s.sent
	s.mu.Unlock()

	s.wg.Add(1)
	go p.upload(s, seq, all)
}

func (p *Pipeline) upload(s *session, seq int, segments [][]byte) {
	defer s.wg.Done()

	start := time.Now()
	res, err := p.deps.Transcriber.Transcribe(s.ctx, segments)
	elapsed := time.Since(start)

	m := log.UploadMetrics{Segments: len(segments), Total: elapsed}
	for _, seg := range segments {
		m.Bytes += len(seg)
	}
	if res != nil && res.Metrics != nil {
		m.TTFB = res.Metrics.TTFB
		m.ConnReused = res.Metrics.ConnReused
		m.TLSProto = res.Metrics.TLSProtocol
	}
	log.Upload(s.id, m, err)
	p.deps.Metrics.RecordUpload(err == nil, m.Bytes, elapsed)

	if err != nil || s.ctx.Err() != nil || res.Text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// responses can arrive out of order; keep the newest upload's transcript
	if seq < s.applied {
		return
	}
	s.applied = seq
	p.deps.Model.SetTranscript(res.Text)
}

// Stop ends the session and then either discards the transcript or submits
// it as a command. Without a session only discard has an effect: the
// transcript is cleared and the status returns to idle.
func (p *Pipeline) Stop(discard bool) {
	p.mu.Lock()
	s := p.sess
	p.sess = nil
	parent := p.parent
	p.mu.Unlock()

	if s == nil && !discard {
		return
	}

	if s != nil {
		s.cancel()
		s.wg.Wait()
		s.release()

		s.mu.Lock()
		segments := len(s.segments)
		s.mu.Unlock()
		recorded := time.Duration(s.seg.Frames()) * time.Second / encoder.SampleRate
		log.CaptureStop(s.id, segments, recorded, s.seg.EncodeTime(), discard)

		outcome := "submitted"
		if discard {
			outcome = "discarded"
		}
		p.deps.Metrics.RecordCapture(outcome)
		p.deps.Model.SetListening(false)
		if p.cfg.Cues {
			sound.PlayEnd()
		}
	}

	if discard {
		p.deps.Model.ClearTranscript()
		p.deps.Model.Reset()
		return
	}

	text := p.deps.Model.Transcript()
	if strings.TrimSpace(text) == "" || !p.deps.Commands.Submit(parent, text) {
		p.deps.Model.ResetIfListening()
	}
}

// Toggle starts a session when idle and stops (submitting) when listening.
func (p *Pipeline) Toggle(ctx context.Context) error {
	if p.Listening() {
		p.Stop(false)
		return nil
	}
	return p.Start(ctx)
}
