package transcriber

import (
	"context"
	"sync"
	"time"
)

// Fake answers uploads from a script. Once the script is exhausted the last
// entry repeats.
type Fake struct {
	mu      sync.Mutex
	script  []FakeReply
	uploads [][]byte
}

type FakeReply struct {
	Text string
	Err  error
	// Delay holds the reply back, so later uploads can overtake it.
	Delay time.Duration
}

func NewFake(replies ...FakeReply) *Fake {
	return &Fake{script: replies}
}

func (f *Fake) Transcribe(ctx context.Context, segments [][]byte) (*Result, error) {
	var body []byte
	for _, s := range segments {
		body = append(body, s...)
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, body)
	var reply FakeReply
	if n := len(f.script); n > 0 {
		reply = f.script[0]
		if n > 1 {
			f.script = f.script[1:]
		}
	}
	f.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Result{Text: reply.Text, Bytes: len(body), Metrics: &NetworkMetrics{}}, nil
}

// Uploads returns the bodies received so far, in order.
func (f *Fake) Uploads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.uploads...)
}
