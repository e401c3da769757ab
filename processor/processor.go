// Package processor opens the server-push progress channel for a submitted
// command and decodes its events.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"antik/log"
	"antik/status"

	"github.com/openai/openai-go/v3/packages/ssestream"
)

const ProcessPath = "/api/v1/process"

var (
	// ErrChannel is any transport-level failure of the progress channel.
	ErrChannel = errors.New("command channel error")
	// ErrStreamEnded means the server closed the stream without sending a
	// completed event.
	ErrStreamEnded = fmt.Errorf("%w: stream ended before completion", ErrChannel)
)

// ProgressEvent is one message on the channel. Each one fully replaces the
// displayed status; fields absent from the payload are zero.
type ProgressEvent struct {
	State   status.State           `json:"state"`
	Message string                 `json:"message"`
	Events  []status.ScheduleEntry `json:"events,omitempty"`
	AIText  string                 `json:"ai_text,omitempty"`
}

func (e ProgressEvent) Status() status.Status {
	return status.Status{State: e.State, Message: e.Message, Events: e.Events}
}

func (e ProgressEvent) Completed() bool { return e.State == status.Completed }

// Opener is satisfied by *Client and by test fakes.
type Opener interface {
	Open(ctx context.Context, text string) (Stream, error)
}

// Stream is the consumer view of an open channel.
type Stream interface {
	Next() bool
	Event() ProgressEvent
	Err() error
	Close() error
	Closed() bool
}

type Client struct {
	http *http.Client
	url  string
}

func New(baseURL string) *Client {
	return &Client{
		http: &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}},
		url:  strings.TrimRight(baseURL, "/") + ProcessPath,
	}
}

// URL returns the request URL for text, percent-encoded.
func (c *Client) URL(text string) string {
	return c.url + "?" + url.Values{"text": {text}}.Encode()
}

func (c *Client) Open(ctx context.Context, text string) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(text), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d", ErrChannel, resp.StatusCode)
	}
	return NewChannel(resp, cancel), nil
}

// Channel decodes progress events from a text/event-stream response.
// Comment lines, empty data frames and named events other than "message"
// are skipped. A payload that is not valid JSON is logged and skipped.
type Channel struct {
	dec    ssestream.Decoder
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	finished bool
	ev       ProgressEvent
	err      error
}

// NewChannel takes ownership of resp. cancel may be nil.
func NewChannel(resp *http.Response, cancel context.CancelFunc) *Channel {
	return &Channel{dec: ssestream.NewDecoder(resp), cancel: cancel}
}

func (c *Channel) Next() bool {
	c.mu.Lock()
	if c.closed || c.finished || c.err != nil {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	for c.dec.Next() {
		raw := c.dec.Event()
		if raw.Type != "" && raw.Type != "message" {
			continue
		}
		data := bytes.TrimSpace(raw.Data)
		if len(data) == 0 {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warnf("skipping malformed progress event: %v", err)
			continue
		}
		c.mu.Lock()
		c.ev = ev
		if ev.Completed() {
			c.finished = true
		}
		c.mu.Unlock()
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dec.Err(); err != nil {
		c.err = fmt.Errorf("%w: %v", ErrChannel, err)
	} else {
		c.err = ErrStreamEnded
	}
	return false
}

func (c *Channel) Event() ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev
}

// Err reports why Next returned false. It is nil after a completed event.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the connection. It is safe to call more than once and from
// another goroutine than the reader.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	return c.dec.Close()
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
