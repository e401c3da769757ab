package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"antik/status"

	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, frames []string, hold bool, gotText chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotText != nil {
			gotText <- r.URL.Query().Get("text")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, s Stream) []ProgressEvent {
	t.Helper()
	var out []ProgressEvent
	for s.Next() {
		out = append(out, s.Event())
	}
	return out
}

func TestFullScenario(t *testing.T) {
	gotText := make(chan string, 1)
	srv := sseServer(t, []string{
		`data: {"state":"understanding","message":"Processing thought..."}` + "\n\n",
		": heartbeat\n\n",
		`data: {"state":"acting","message":"Syncing with system...","events":[{"summary":"Standup","start":{"dateTime":"2024-05-06T09:30:00"}},{"start":{"date":"2024-05-07"}}]}` + "\n\n",
		": heartbeat\n\n",
		`data: {"state":"completed","message":"Done","ai_text":"Hello"}` + "\n\n",
	}, true, gotText)

	ch, err := New(srv.URL).Open(context.Background(), "remind me at 5 & 6")
	require.NoError(t, err)
	require.Equal(t, "remind me at 5 & 6", <-gotText)

	events := collect(t, ch)
	require.Len(t, events, 3)
	require.Equal(t, status.Understanding, events[0].State)

	require.Equal(t, status.State("acting"), events[1].State)
	require.Len(t, events[1].Events, 2)
	require.Equal(t, "Standup", events[1].Events[0].Title())
	require.Equal(t, "Untitled", events[1].Events[1].Title())
	require.True(t, events[1].Events[1].AllDay())
	require.Equal(t, "2024-05-07", events[1].Events[1].Start.Date)

	require.True(t, events[2].Completed())
	require.Equal(t, "Hello", events[2].AIText)
	require.NoError(t, ch.Err())

	require.NoError(t, ch.Close())
	require.True(t, ch.Closed())
	require.NoError(t, ch.Close(), "second close is a no-op")
}

func TestStatusReplacesEvents(t *testing.T) {
	ev := ProgressEvent{State: "acting", Message: "m"}
	require.Equal(t, status.Status{State: "acting", Message: "m"}, ev.Status())
}

func TestURLEncodesText(t *testing.T) {
	c := New("http://localhost:8000/")
	require.Equal(t, "http://localhost:8000/api/v1/process?text=what%27s+on+today%3F", c.URL("what's on today?"))
}

func TestNon200IsChannelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).Open(context.Background(), "x")
	require.ErrorIs(t, err, ErrChannel)
}

func TestUnreachableIsChannelError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Open(context.Background(), "x")
	require.ErrorIs(t, err, ErrChannel)
}

func TestStreamEndsWithoutCompletion(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"state":"understanding","message":"Processing thought..."}` + "\n\n",
	}, false, nil)

	ch, err := New(srv.URL).Open(context.Background(), "x")
	require.NoError(t, err)
	defer ch.Close()

	require.Len(t, collect(t, ch), 1)
	require.ErrorIs(t, ch.Err(), ErrStreamEnded)
	require.ErrorIs(t, ch.Err(), ErrChannel)
	require.False(t, ch.Closed())
}

func TestSkipsMalformedAndNamedEvents(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {not json\n\n",
		"event: ping\ndata: {\"state\":\"bogus\"}\n\n",
		"data:\n\n",
		"event: message\ndata: {\"state\":\"completed\",\"message\":\"ok\"}\n\n",
	}, true, nil)

	ch, err := New(srv.URL).Open(context.Background(), "x")
	require.NoError(t, err)
	defer ch.Close()

	events := collect(t, ch)
	require.Len(t, events, 1)
	require.Equal(t, "ok", events[0].Message)
	require.Empty(t, events[0].AIText)
}

func TestCloseUnblocksReader(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"state":"understanding","message":"Thinking"}` + "\n\n",
	}, true, nil)

	ch, err := New(srv.URL).Open(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, ch.Next())

	done := make(chan bool)
	go func() { done <- ch.Next() }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case more := <-done:
		require.False(t, more)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after Close")
	}
	require.True(t, ch.Closed())
	require.Error(t, ch.Err())
}

func TestNextAfterCloseReturnsFalse(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"state":"understanding","message":"Thinking"}` + "\n\n",
	}, true, nil)
	ch, err := New(srv.URL).Open(context.Background(), "x")
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.False(t, ch.Next())
	require.NoError(t, ch.Err())
}
