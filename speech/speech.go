// Package speech speaks command replies through a local text-to-speech
// engine.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

const (
	DefaultRate  = 1.05
	DefaultPitch = 1.0
)

var DefaultPreferredVoices = []string{"Google US", "Samantha"}

var ErrNoEngine = errors.New("no speech engine available")

type Voice struct {
	Name string
	Lang string
}

// Utterance is one request to speak. A nil Voice means the engine default.
// Rate and Pitch are relative to the engine's normal speed and pitch (1.0).
type Utterance struct {
	Text  string
	Voice *Voice
	Rate  float64
	Pitch float64
}

// Speaker plays utterances asynchronously. Cancel stops whatever is playing
// and returns once it has stopped. Wait returns once nothing is playing.
type Speaker interface {
	Name() string
	Voices(ctx context.Context) ([]Voice, error)
	Speak(u Utterance)
	Cancel()
	Wait()
}

// PickVoice returns the first voice, in engine order, whose name contains
// any of the preferred fragments.
func PickVoice(voices []Voice, preferred []string) *Voice {
	for i := range voices {
		for _, p := range preferred {
			if p != "" && strings.Contains(voices[i].Name, p) {
				return &voices[i]
			}
		}
	}
	return nil
}

type engine interface {
	Speaker
	Available() bool
}

func defaultEngines(goos string) []engine {
	switch goos {
	case "darwin":
		return []engine{newSay(), newEspeak("espeak-ng"), newEspeak("espeak")}
	default:
		return []engine{newEspeak("espeak-ng"), newEspeak("espeak")}
	}
}

// New selects an engine by name. "auto" picks the first available engine for
// this platform and falls back to a silent speaker; "none" is always silent.
func New(preferred string) (Speaker, error) {
	return selectEngine(defaultEngines(runtime.GOOS), preferred)
}

func selectEngine(engines []engine, preferred string) (Speaker, error) {
	switch preferred {
	case "none":
		return Nop{}, nil
	case "", "auto":
		for _, e := range engines {
			if e.Available() {
				return e, nil
			}
		}
		return Nop{}, nil
	}
	for _, e := range engines {
		if e.Name() == preferred {
			if !e.Available() {
				return nil, fmt.Errorf("%w: %q is not installed", ErrNoEngine, preferred)
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("unknown speech engine %q", preferred)
}

// Warmup issues a single empty utterance the first time Do is called, so the
// engine is loaded before the first real reply. Engines treat an empty
// utterance as a silent render that also loads their voice list.
type Warmup struct {
	once sync.Once
	s    Speaker
}

func NewWarmup(s Speaker) *Warmup { return &Warmup{s: s} }

func (w *Warmup) Do() {
	w.once.Do(func() { w.s.Speak(Utterance{Rate: DefaultRate, Pitch: DefaultPitch}) })
}

// player runs at most one utterance at a time.
type player struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *player) start(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)
	}()
}

func (p *player) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *player) wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

// runFunc runs an engine command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Nop is the silent speaker used when no engine is installed.
type Nop struct{}

func (Nop) Name() string                            { return "none" }
func (Nop) Voices(context.Context) ([]Voice, error) { return nil, nil }
func (Nop) Speak(Utterance)                         {}
func (Nop) Cancel()                                 {}
func (Nop) Wait()                                   {}
