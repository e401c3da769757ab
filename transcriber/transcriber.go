// Package transcriber uploads recorded speech to the voice endpoint and reads
// back the running transcript.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	VoicePath   = "/api/v1/voice"
	FieldName   = "file"
	FileName    = "stream.webm"
	ContentType = "audio/flac"
)

// ErrUploadFailed covers every way a single upload can fail: transport
// errors, non-200 responses, unreadable bodies and server-reported errors.
var ErrUploadFailed = errors.New("voice upload failed")

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

type Result struct {
	// Text is the transcript of everything uploaded so far. Empty means the
	// server heard nothing worth keeping.
	Text    string
	Bytes   int
	Metrics *NetworkMetrics
}

type Transcriber interface {
	Transcribe(ctx context.Context, segments [][]byte) (*Result, error)
}

type voiceResponse struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

type Client struct {
	client *TracedClient
	url    string
}

// New returns a client for the voice endpoint of the service at baseURL.
func New(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{client: NewTracedClient(base), url: base + VoicePath}
}

func (c *Client) URL() string { return c.url }

// Warm opens a connection ahead of the first upload and reports how long
// connecting took.
func (c *Client) Warm(ctx context.Context) time.Duration { return c.client.Warm(ctx) }

// Transcribe uploads the concatenation of segments as one file.
func (c *Client) Transcribe(ctx context.Context, segments [][]byte) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, FileName))
	h.Set("Content-Type", ContentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	size := 0
	for _, seg := range segments {
		n, err := part.Write(seg)
		if err != nil {
			return nil, err
		}
		size += n
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, snippet(resp.Body))
	}

	var vr voiceResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUploadFailed, err)
	}
	if vr.Error != "" {
		return nil, fmt.Errorf("%w: server: %s", ErrUploadFailed, vr.Error)
	}

	return &Result{
		Text:    strings.TrimSpace(vr.Transcript),
		Bytes:   size,
		Metrics: resp.Metrics,
	}, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
