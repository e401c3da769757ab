package hotkey

import (
	"time"
)

type Action int

const (
	StartListening Action = iota
	// StopListening ends the session and submits what was heard.
	StopListening
)

func (a Action) String() string {
	if a == StartListening {
		return "start"
	}
	return "stop"
}

// Trigger turns presses of a Hotkey into listening actions. A short tap
// starts listening and the next tap stops it; holding the key longer than
// longPress listens until release.
type Trigger struct {
	actions chan Action
	done    chan struct{}
}

func NewTrigger(hk Hotkey, longPress time.Duration) *Trigger {
	t := &Trigger{
		actions: make(chan Action, 1),
		done:    make(chan struct{}),
	}
	go t.run(hk, longPress)
	return t
}

func (t *Trigger) Actions() <-chan Action { return t.actions }

// Close stops the trigger. Pending key events are dropped.
func (t *Trigger) Close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Trigger) emit(a Action) bool {
	select {
	case t.actions <- a:
		return true
	case <-t.done:
		return false
	}
}

func (t *Trigger) wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-t.done:
		return false
	}
}

func (t *Trigger) run(hk Hotkey, longPress time.Duration) {
	for {
		if !t.wait(hk.Keydown()) || !t.emit(StartListening) {
			return
		}
		timer := time.NewTimer(longPress)
		select {
		case <-timer.C:
			// held: listen until release
			if !t.wait(hk.Keyup()) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			// tapped: the next full press stops
			if !t.wait(hk.Keydown()) || !t.wait(hk.Keyup()) {
				return
			}
		case <-t.done:
			timer.Stop()
			return
		}
		if !t.emit(StopListening) {
			return
		}
	}
}
