// Package command runs submitted commands: it opens the progress channel,
// mirrors every event into the status model and speaks the final reply.
package command

import (
	"context"
	"strings"
	"sync"
	"time"

	"antik/log"
	"antik/metrics"
	"antik/processor"
	"antik/speech"
	"antik/status"

	"github.com/google/uuid"
)

type Config struct {
	PreferredVoices []string
	Rate            float64
	Pitch           float64
}

func DefaultConfig() Config {
	return Config{
		PreferredVoices: speech.DefaultPreferredVoices,
		Rate:            speech.DefaultRate,
		Pitch:           speech.DefaultPitch,
	}
}

type Machine struct {
	cfg     Config
	opener  processor.Opener
	model   *status.Model
	speaker speech.Speaker
	metrics *metrics.Metrics

	wg sync.WaitGroup

	mu        sync.Mutex
	current   *inflight
	lastReply string
}

// inflight is one submitted command. Only the run that still owns it may
// touch the status or lift the gate.
type inflight struct {
	id     string
	cancel context.CancelFunc
	ch     processor.Stream
}

func New(cfg Config, opener processor.Opener, model *status.Model, speaker speech.Speaker, m *metrics.Metrics) *Machine {
	if speaker == nil {
		speaker = speech.Nop{}
	}
	return &Machine{cfg: cfg, opener: opener, model: model, speaker: speaker, metrics: m}
}

// Submit starts a command for text. It returns false without touching any
// state when text is blank or a command is already in flight.
func (m *Machine) Submit(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if !m.model.BeginProcessing() {
		return false
	}
	m.model.SetStatus(status.Status{State: status.Understanding, Message: status.MessageThinking})

	ctx, cancel := context.WithCancel(ctx)
	c := &inflight{id: uuid.NewString(), cancel: cancel}
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
	log.CommandStart(c.id, len(text))

	m.wg.Add(1)
	go m.run(ctx, c, text)
	return true
}

func (m *Machine) run(ctx context.Context, c *inflight, text string) {
	defer m.wg.Done()
	defer c.cancel()
	start := time.Now()

	ch, err := m.opener.Open(ctx, text)
	if err != nil {
		if m.release(c) {
			m.lost(c.id, nil, err, start)
		} else {
			log.DuplicateClose(c.id, err)
		}
		return
	}

	m.mu.Lock()
	owned := m.current == c
	if owned {
		c.ch = ch
	}
	m.mu.Unlock()
	if !owned {
		_ = ch.Close()
		log.DuplicateClose(c.id, ctx.Err())
		return
	}

	for ch.Next() {
		ev := ch.Event()
		log.Progress(c.id, string(ev.State), len(ev.Events))
		m.metrics.RecordProgress(string(ev.State))
		m.model.SetStatus(ev.Status())

		if ev.Completed() {
			m.complete(ctx, c, ch, ev, start)
			return
		}
	}

	err = ch.Err()
	if !m.release(c) || ch.Closed() {
		// closed from our side; the read error that follows is expected
		log.DuplicateClose(c.id, err)
		return
	}
	m.lost(c.id, ch, err, start)
}

// release drops ownership of c and reports whether the caller still held it.
func (m *Machine) release(c *inflight) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != c {
		return false
	}
	m.current = nil
	return true
}

func (m *Machine) complete(ctx context.Context, c *inflight, ch processor.Stream, ev processor.ProgressEvent, start time.Time) {
	if !m.release(c) {
		_ = ch.Close()
		return
	}
	if ev.AIText != "" {
		m.speak(ctx, ev.AIText)
	}
	_ = ch.Close()
	m.model.ClearTranscript()
	m.model.EndProcessing()

	m.metrics.RecordCommand("completed")
	log.CommandEnd(c.id, "completed", time.Since(start), nil)
}

// lost reports a transport failure. ch is nil when the channel never opened.
func (m *Machine) lost(id string, ch processor.Stream, err error, start time.Time) {
	m.model.SetStatus(status.Status{State: status.Error, Message: status.MessageConnectionLost})
	if ch != nil {
		_ = ch.Close()
	}
	m.model.EndProcessing()

	m.metrics.RecordCommand("connection_lost")
	log.CommandEnd(id, "connection_lost", time.Since(start), err)
}

func (m *Machine) speak(ctx context.Context, text string) {
	voices, err := m.speaker.Voices(ctx)
	if err != nil {
		log.Warnf("listing voices: %v", err)
	}
	u := speech.Utterance{
		Text:  text,
		Voice: speech.PickVoice(voices, m.cfg.PreferredVoices),
		Rate:  m.cfg.Rate,
		Pitch: m.cfg.Pitch,
	}

	m.mu.Lock()
	m.lastReply = text
	m.mu.Unlock()

	m.speaker.Cancel()
	m.speaker.Speak(u)
	m.metrics.RecordUtterance()
}

// Abort closes the command in flight, if any, and lifts the submission gate.
// The status is left as it was.
func (m *Machine) Abort() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	var ch processor.Stream
	if c != nil {
		ch = c.ch
	}
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	if ch != nil {
		_ = ch.Close()
	}
	m.model.EndProcessing()
	m.metrics.RecordCommand("aborted")
	log.CommandEnd(c.id, "aborted", 0, nil)
}

// Wait blocks until every submitted command has finished.
func (m *Machine) Wait() { m.wg.Wait() }

// LastReply returns the most recent spoken reply.
func (m *Machine) LastReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReply
}
