package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FakeOpener hands out pre-built streams in order and records the text of
// every Open call.
type FakeOpener struct {
	mu      sync.Mutex
	streams []*FakeStream
	texts   []string
	Err     error
}

func NewFakeOpener(streams ...*FakeStream) *FakeOpener {
	return &FakeOpener{streams: streams}
}

func (f *FakeOpener) Open(ctx context.Context, text string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.streams) == 0 {
		return nil, fmt.Errorf("%w: no fake stream left", ErrChannel)
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *FakeOpener) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeItem struct {
	ev  ProgressEvent
	err error
}

// FakeStream delivers whatever the test pushes. Closing it makes a blocked
// Next fail the way a real connection does.
type FakeStream struct {
	items chan fakeItem
	done  chan struct{}

	mu         sync.Mutex
	ev         ProgressEvent
	err        error
	finished   bool
	closed     bool
	closeCalls int
}

var errFakeClosed = errors.New("read on closed stream")

func NewFakeStream(events ...ProgressEvent) *FakeStream {
	s := &FakeStream{items: make(chan fakeItem, 64), done: make(chan struct{})}
	for _, ev := range events {
		s.Push(ev)
	}
	return s
}

func (s *FakeStream) Push(ev ProgressEvent) { s.items <- fakeItem{ev: ev} }

// Fail queues a transport error after any events already pushed.
func (s *FakeStream) Fail(err error) { s.items <- fakeItem{err: err} }

func (s *FakeStream) Next() bool {
	s.mu.Lock()
	if s.closed || s.finished || s.err != nil {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case it := <-s.items:
		s.mu.Lock()
		defer s.mu.Unlock()
		if it.err != nil {
			s.err = fmt.Errorf("%w: %v", ErrChannel, it.err)
			return false
		}
		s.ev = it.ev
		s.finished = it.ev.Completed()
		return true
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.err = fmt.Errorf("%w: %v", ErrChannel, errFakeClosed)
		return false
	}
}

func (s *FakeStream) Event() ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ev
}

func (s *FakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
