package speech

import (
	"context"
	"sync"
)

// Call records one interaction with a Fake.
type Call struct {
	Op        string // "speak" or "cancel"
	Utterance Utterance
}

// Fake records every Speak and Cancel in order.
type Fake struct {
	VoiceList []Voice

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Voices(context.Context) ([]Voice, error) { return f.VoiceList, nil }

func (f *Fake) Speak(u Utterance) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "speak", Utterance: u})
	f.mu.Unlock()
}

func (f *Fake) Cancel() {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "cancel"})
	f.mu.Unlock()
}

func (f *Fake) Wait() {}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
