package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Uploads grow for the whole session, so only the caller's context may end
// them.
func TestUploadClientHasNoTimeout(t *testing.T) {
	c := New("http://localhost:8000")
	require.Zero(t, c.client.client.Timeout)
}

func TestSlowUploadCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"transcript":"still here"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Transcribe(context.Background(), [][]byte{[]byte("fLaC")})
	require.NoError(t, err)
	require.Equal(t, "still here", res.Text)
}

type upload struct {
	field, filename, contentType string
	body                         []byte
}

func voiceServer(t *testing.T, status int, reply string, got chan<- upload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, VoicePath, r.URL.Path)

		mr, err := r.MultipartReader()
		require.NoError(t, err)
		p, err := mr.NextPart()
		require.NoError(t, err)
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		got <- upload{p.FormName(), p.FileName(), p.Header.Get("Content-Type"), body}

		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribeUploadsConcatenatedSegments(t *testing.T) {
	got := make(chan upload, 1)
	srv := voiceServer(t, http.StatusOK, `{"transcript":"  remind me at noon "}`, got)

	c := New(srv.URL + "/")
	res, err := c.Transcribe(context.Background(), [][]byte{[]byte("fLaC"), []byte("-one"), []byte("-two")})
	require.NoError(t, err)
	require.Equal(t, "remind me at noon", res.Text)
	require.Equal(t, 12, res.Bytes)
	require.NotNil(t, res.Metrics)

	u := <-got
	require.Equal(t, FieldName, u.field)
	require.Equal(t, FileName, u.filename)
	require.Equal(t, ContentType, u.contentType)
	require.Equal(t, "fLaC-one-two", string(u.body))
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	srv := voiceServer(t, http.StatusOK, `{"transcript":""}`, make(chan upload, 1))
	res, err := New(srv.URL).Transcribe(context.Background(), [][]byte{[]byte("x")})
	require.NoError(t, err)
	require.Empty(t, res.Text)
}

func TestTranscribeFailures(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"error field", http.StatusOK, `{"error":"whisper unavailable"}`},
		{"not json", http.StatusOK, "<html>"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := voiceServer(t, tt.status, tt.reply, make(chan upload, 1))
			_, err := New(srv.URL).Transcribe(context.Background(), [][]byte{[]byte("x")})
			require.ErrorIs(t, err, ErrUploadFailed)
		})
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Transcribe(context.Background(), [][]byte{[]byte("x")})
	require.ErrorIs(t, err, ErrUploadFailed)
}

func TestTranscribeCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(srv.URL).Transcribe(ctx, [][]byte{[]byte("x")})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUploadFailed))
}

func TestWarm(t *testing.T) {
	srv := voiceServer(t, http.StatusOK, `{"transcript":"ok"}`, make(chan upload, 1))
	c := New(srv.URL)
	c.Warm(context.Background())

	res, err := c.Transcribe(context.Background(), [][]byte{[]byte("x")})
	require.NoError(t, err)
	require.True(t, res.Metrics.ConnReused, "upload should reuse the warmed connection")
}

func TestFakeScript(t *testing.T) {
	f := NewFake(FakeReply{Text: "a"}, FakeReply{Err: ErrUploadFailed}, FakeReply{Text: "b"})
	ctx := context.Background()

	r, err := f.Transcribe(ctx, [][]byte{[]byte("1")})
	require.NoError(t, err)
	require.Equal(t, "a", r.Text)

	_, err = f.Transcribe(ctx, [][]byte{[]byte("1"), []byte("2")})
	require.ErrorIs(t, err, ErrUploadFailed)

	for range 2 {
		r, err = f.Transcribe(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, "b", r.Text)
	}
	require.Equal(t, [][]byte{[]byte("1"), []byte("12"), nil, nil}, f.Uploads())
}
