// Package status holds the single owned model shared by the capture pipeline,
// the command state machine and the presentation layer.
package status

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	Idle          State = "idle"
	Listening     State = "listening"
	Understanding State = "understanding"
	Completed     State = "completed"
	Error         State = "error"
)

const (
	MessageReady          = "Ready"
	MessageListening      = "Listening..."
	MessageThinking       = "Thinking..."
	MessageMicBlocked     = "Mic Blocked"
	MessageConnectionLost = "Connection Lost"
)

// VisualizerBins is the number of amplitude bins produced by the analysis tap.
const VisualizerBins = 32

// EventStart is either a timestamp (DateTime) or an all-day marker (Date).
type EventStart struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type ScheduleEntry struct {
	Summary string     `json:"summary,omitempty"`
	Start   EventStart `json:"start"`
}

func (e ScheduleEntry) Title() string {
	if e.Summary == "" {
		return "Untitled"
	}
	return e.Summary
}

func (e ScheduleEntry) AllDay() bool { return e.Start.DateTime == "" }

// When formats the start the way the schedule card shows it: weekday and
// hour:minute for timed entries, "All Day" otherwise.
func (e ScheduleEntry) When() string {
	if e.AllDay() {
		return "All Day"
	}
	t, err := parseDateTime(e.Start.DateTime)
	if err != nil {
		return e.Start.DateTime
	}
	return t.Format("Mon 15:04")
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Local(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized start time %q", s)
}

// Status is the displayed {state, message, events} triple. It is always
// replaced as a whole, never merged.
type Status struct {
	State   State
	Message string
	Events  []ScheduleEntry
}

type Snapshot struct {
	Status     Status
	Transcript string
	Processing bool
	Listening  bool
	Visualizer [VisualizerBins]uint8
}

// Sink receives a snapshot after every transition, in transition order.
// A sink may read the model but must not mutate it.
type Sink func(Snapshot)

type Model struct {
	notifyMu   sync.Mutex
	mu         sync.Mutex
	status     Status
	transcript string
	processing bool
	listening  bool
	visualizer [VisualizerBins]uint8
	sinks      []Sink
}

func New() *Model {
	return &Model{status: Status{State: Idle, Message: MessageReady}}
}

func (m *Model) Subscribe(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Model) snapshotLocked() Snapshot {
	return Snapshot{
		Status:     m.status,
		Transcript: m.transcript,
		Processing: m.processing,
		Listening:  m.listening,
		Visualizer: m.visualizer,
	}
}

// update applies fn under the state lock and notifies sinks after releasing it.
func (m *Model) update(fn func() bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := fn()
	snap := m.snapshotLocked()
	sinks := m.sinks
	m.mu.Unlock()

	if changed {
		for _, s := range sinks {
			s(snap)
		}
	}
	return changed
}

func (m *Model) SetStatus(s Status) {
	m.update(func() bool {
		m.status = s
		return true
	})
}

func (m *Model) Reset() {
	m.SetStatus(Status{State: Idle, Message: MessageReady})
}

// ResetIfListening returns the status to idle only when it still shows the
// listening state, so a status written by an in-flight command is kept.
func (m *Model) ResetIfListening() {
	m.update(func() bool {
		if m.status.State != Listening {
			return false
		}
		m.status = Status{State: Idle, Message: MessageReady}
		return true
	})
}

func (m *Model) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetTranscript overwrites the transcript; last write wins.
func (m *Model) SetTranscript(text string) {
	m.update(func() bool {
		if m.transcript == text {
			return false
		}
		m.transcript = text
		return true
	})
}

func (m *Model) ClearTranscript() { m.SetTranscript("") }

func (m *Model) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript
}

// BeginProcessing is the submission gate: it reports false when a command is
// already in flight and otherwise marks one as started.
func (m *Model) BeginProcessing() bool {
	return m.update(func() bool {
		if m.processing {
			return false
		}
		m.processing = true
		return true
	})
}

func (m *Model) EndProcessing() {
	m.update(func() bool {
		if !m.processing {
			return false
		}
		m.processing = false
		return true
	})
}

func (m *Model) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

func (m *Model) SetListening(on bool) {
	m.update(func() bool {
		if m.listening == on {
			return false
		}
		m.listening = on
		if !on {
			m.visualizer = [VisualizerBins]uint8{}
		}
		return true
	})
}

func (m *Model) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

func (m *Model) SetVisualizer(bins [VisualizerBins]uint8) {
	m.update(func() bool {
		if !m.listening || m.visualizer == bins {
			return false
		}
		m.visualizer = bins
		return true
	})
}
