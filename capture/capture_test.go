package capture

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"antik/audio"
	"antik/speech"
	"antik/status"
	"antik/transcriber"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type submitter struct {
	mu     sync.Mutex
	texts  []string
	reject bool
}

func (s *submitter) Submit(_ context.Context, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.texts = append(s.texts, text)
	return true
}

func (s *submitter) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

type harness struct {
	p       *Pipeline
	model   *status.Model
	tr      *transcriber.Fake
	sub     *submitter
	speaker *speech.Fake
	actx    *audio.FakeContext
}

func newHarness(t *testing.T, cfg Config, replies ...transcriber.FakeReply) *harness {
	t.Helper()
	h := &harness{
		model:   status.New(),
		tr:      transcriber.NewFake(replies...),
		sub:     &submitter{},
		speaker: &speech.Fake{},
		actx:    audio.NewFakeContext(tone(16000), 16000, false),
	}
	if cfg.SegmentInterval == 0 {
		cfg.SegmentInterval = 20 * time.Millisecond
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = 5 * time.Millisecond
	}
	h.p = New(cfg, Deps{
		Open:        func() (audio.Context, error) { return h.actx, nil },
		Model:       h.model,
		Transcriber: h.tr,
		Commands:    h.sub,
		Warmup:      speech.NewWarmup(h.speaker),
		Fs:          afero.NewMemMapFs(),
	})
	t.Cleanup(func() { h.p.Stop(true) })
	return h
}

func TestStartShowsListening(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "hi"})
	require.NoError(t, h.p.Start(context.Background()))
	require.True(t, h.p.Listening())

	snap := h.model.Snapshot()
	require.Equal(t, status.Status{State: status.Listening, Message: status.MessageListening}, snap.Status)
	require.True(t, snap.Listening)

	// a second start is ignored
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return h.model.Snapshot().Visualizer != [status.VisualizerBins]uint8{} }, waitFor, tick)
}

func TestUploadsAreCumulative(t *testing.T) {
	h := newHarness(t, Config{},
		transcriber.FakeReply{Text: "remind"},
		transcriber.FakeReply{Text: "remind me"},
		transcriber.FakeReply{Text: "remind me tomorrow"},
	)
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.tr.Uploads()) >= 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.model.Transcript() == "remind me tomorrow" }, waitFor, tick)
	h.p.Stop(true)

	uploads := h.tr.Uploads()
	require.True(t, bytes.HasPrefix(uploads[0], []byte("fLaC")))
	for i := 1; i < len(uploads); i++ {
		require.GreaterOrEqual(t, len(uploads[i]), len(uploads[i-1]))
		require.True(t, bytes.HasPrefix(uploads[i], uploads[i-1]), "upload %d does not extend the previous one", i)
	}
}

func TestDiscardClearsTranscript(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "never mind"})
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return h.model.Transcript() == "never mind" }, waitFor, tick)

	h.p.Stop(true)
	snap := h.model.Snapshot()
	require.Empty(t, snap.Transcript)
	require.Equal(t, status.Idle, snap.Status.State)
	require.False(t, snap.Listening)
	require.Empty(t, h.sub.Texts())
}

func TestStopSubmitsTranscriptOnce(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "turn on the lights"})
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return h.model.Transcript() == "turn on the lights" }, waitFor, tick)

	h.p.Stop(false)
	h.p.Stop(false)
	require.Equal(t, []string{"turn on the lights"}, h.sub.Texts())
	require.False(t, h.p.Listening())
}

func TestStopWithEmptyTranscriptGoesIdle(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: ""})
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.tr.Uploads()) >= 1 }, waitFor, tick)

	h.p.Stop(false)
	require.Empty(t, h.sub.Texts())
	require.Equal(t, status.Idle, h.model.Status().State)
}

func TestRejectedSubmitGoesIdle(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "hello"})
	h.sub.reject = true
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return h.model.Transcript() == "hello" }, waitFor, tick)

	h.p.Stop(false)
	require.Equal(t, status.Idle, h.model.Status().State)
}

func TestLateOlderResponseIsDropped(t *testing.T) {
	h := newHarness(t, Config{},
		transcriber.FakeReply{Text: "remind", Delay: 200 * time.Millisecond},
		transcriber.FakeReply{Text: "remind me tomorrow"},
	)
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return h.model.Transcript() == "remind me tomorrow" }, waitFor, tick)

	// the first upload answers last; its shorter transcript must not win
	require.Never(t, func() bool { return h.model.Transcript() != "remind me tomorrow" }, 400*time.Millisecond, tick)
	require.GreaterOrEqual(t, len(h.tr.Uploads()), 2)
}

func TestUploadFailureKeepsTranscript(t *testing.T) {
	h := newHarness(t, Config{},
		transcriber.FakeReply{Text: "book a table"},
		transcriber.FakeReply{Err: transcriber.ErrUploadFailed},
	)
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.tr.Uploads()) >= 3 }, waitFor, tick)
	require.Equal(t, "book a table", h.model.Transcript())
	require.Equal(t, status.Listening, h.model.Status().State)
}

func TestMicBlocked(t *testing.T) {
	h := newHarness(t, Config{Cues: false})
	h.actx.Err = errors.New("permission denied")

	err := h.p.Start(context.Background())
	require.ErrorIs(t, err, audio.ErrDeviceDenied)
	require.False(t, h.p.Listening())
	require.Equal(t, status.Status{State: status.Error, Message: status.MessageMicBlocked}, h.model.Status())
	require.False(t, h.model.Snapshot().Listening)
}

func TestContextOpenFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.p.deps.Open = func() (audio.Context, error) { return nil, errors.New("no audio server") }

	err := h.p.Start(context.Background())
	require.ErrorIs(t, err, audio.ErrDeviceDenied)
	require.Equal(t, status.MessageMicBlocked, h.model.Status().Message)
}

func TestWarmupSpeaksOnce(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: ""})
	for range 3 {
		require.NoError(t, h.p.Start(context.Background()))
		h.p.Stop(true)
	}
	calls := h.speaker.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "speak", calls[0].Op)
	require.Empty(t, calls[0].Utterance.Text)
}

func TestNothingHappensAfterStop(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "late"})
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.tr.Uploads()) >= 1 }, waitFor, tick)
	h.p.Stop(true)

	n := len(h.tr.Uploads())
	time.Sleep(100 * time.Millisecond)
	require.Len(t, h.tr.Uploads(), n)
	snap := h.model.Snapshot()
	require.Empty(t, snap.Transcript)
	require.Equal(t, [status.VisualizerBins]uint8{}, snap.Visualizer)
}

func TestToggle(t *testing.T) {
	h := newHarness(t, Config{}, transcriber.FakeReply{Text: "what time is it"})
	require.NoError(t, h.p.Toggle(context.Background()))
	require.True(t, h.p.Listening())
	require.Eventually(t, func() bool { return h.model.Transcript() != "" }, waitFor, tick)

	require.NoError(t, h.p.Toggle(context.Background()))
	require.False(t, h.p.Listening())
	require.Equal(t, []string{"what time is it"}, h.sub.Texts())
}

func TestRecordDirKeepsSessionAudio(t *testing.T) {
	h := newHarness(t, Config{RecordDir: "sessions"}, transcriber.FakeReply{Text: ""})
	require.NoError(t, h.p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.tr.Uploads()) >= 1 }, waitFor, tick)
	h.p.Stop(true)

	fs := h.p.deps.Fs
	files, err := afero.ReadDir(fs, "sessions")
	require.NoError(t, err)
	require.Len(t, files, 1)

	samples, err := audio.LoadWAV(fs, "sessions/"+files[0].Name(), 16000)
	require.NoError(t, err)
	require.NotEmpty(t, samples)
}
