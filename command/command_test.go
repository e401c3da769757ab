package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"antik/processor"
	"antik/speech"
	"antik/status"

	"github.com/stretchr/testify/require"
)

func newMachine(opener processor.Opener) (*Machine, *status.Model, *speech.Fake) {
	model := status.New()
	speaker := &speech.Fake{VoiceList: []speech.Voice{{Name: "Alex", Lang: "en_US"}, {Name: "Samantha", Lang: "en_US"}}}
	return New(DefaultConfig(), opener, model, speaker, nil), model, speaker
}

func TestSubmitBlankIsNoop(t *testing.T) {
	opener := processor.NewFakeOpener()
	m, model, _ := newMachine(opener)

	require.False(t, m.Submit(context.Background(), "   "))
	require.False(t, m.Submit(context.Background(), ""))
	m.Wait()

	require.False(t, model.Processing())
	require.Equal(t, status.Idle, model.Status().State)
	require.Empty(t, opener.Texts())
}

func TestSubmitWhileProcessingIsRejected(t *testing.T) {
	stream := processor.NewFakeStream()
	opener := processor.NewFakeOpener(stream)
	m, model, _ := newMachine(opener)

	require.True(t, m.Submit(context.Background(), "first"))
	require.Equal(t, status.Status{State: status.Understanding, Message: status.MessageThinking}, model.Status())
	require.False(t, m.Submit(context.Background(), "second"))

	m.Abort()
	m.Wait()
	require.Equal(t, []string{"first"}, opener.Texts())
	require.False(t, model.Processing())
}

func TestCompletedSpeaksAndResets(t *testing.T) {
	stream := processor.NewFakeStream(
		processor.ProgressEvent{State: "acting", Message: "Syncing with system..."},
		processor.ProgressEvent{State: status.Completed, Message: "Done", AIText: "Hello"},
	)
	opener := processor.NewFakeOpener(stream)
	m, model, speaker := newMachine(opener)
	model.SetTranscript("say hello")

	require.True(t, m.Submit(context.Background(), "say hello"))
	m.Wait()

	calls := speaker.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "cancel", calls[0].Op)
	require.Equal(t, "speak", calls[1].Op)
	u := calls[1].Utterance
	require.Equal(t, "Hello", u.Text)
	require.Equal(t, 1.05, u.Rate)
	require.Equal(t, 1.0, u.Pitch)
	require.NotNil(t, u.Voice)
	require.Equal(t, "Samantha", u.Voice.Name)

	require.Equal(t, status.Status{State: status.Completed, Message: "Done"}, model.Status())
	require.Empty(t, model.Transcript())
	require.False(t, model.Processing())
	require.Equal(t, 1, stream.CloseCalls())
	require.Equal(t, "Hello", m.LastReply())
}

func TestCompletedWithoutReplyIsSilent(t *testing.T) {
	stream := processor.NewFakeStream(processor.ProgressEvent{State: status.Completed, Message: "Done"})
	m, model, speaker := newMachine(processor.NewFakeOpener(stream))

	require.True(t, m.Submit(context.Background(), "noop"))
	m.Wait()
	require.Empty(t, speaker.Calls())
	require.False(t, model.Processing())
}

func TestTransportErrorShowsConnectionLost(t *testing.T) {
	stream := processor.NewFakeStream(processor.ProgressEvent{State: "acting", Message: "Working"})
	stream.Fail(errors.New("connection reset"))
	m, model, speaker := newMachine(processor.NewFakeOpener(stream))

	require.True(t, m.Submit(context.Background(), "do it"))
	m.Wait()

	require.Equal(t, status.Status{State: status.Error, Message: status.MessageConnectionLost}, model.Status())
	require.False(t, model.Processing())
	require.Equal(t, 1, stream.CloseCalls())
	require.Empty(t, speaker.Calls())
}

func TestOpenFailureShowsConnectionLost(t *testing.T) {
	opener := processor.NewFakeOpener()
	opener.Err = fmt.Errorf("%w: dial refused", processor.ErrChannel)
	m, model, _ := newMachine(opener)

	require.True(t, m.Submit(context.Background(), "do it"))
	m.Wait()
	require.Equal(t, status.MessageConnectionLost, model.Status().Message)
	require.False(t, model.Processing())

	// the gate is open again
	opener.Err = nil
	require.True(t, m.Submit(context.Background(), "again"))
	m.Wait()
}

func TestErrorAfterCloseLeavesStatus(t *testing.T) {
	stream := processor.NewFakeStream(processor.ProgressEvent{State: "acting", Message: "Syncing with system..."})
	m, model, _ := newMachine(processor.NewFakeOpener(stream))

	require.True(t, m.Submit(context.Background(), "sync"))
	require.Eventually(t, func() bool { return model.Status().State == "acting" }, testTimeout, testTick)

	m.Abort()
	m.Wait()

	require.Equal(t, status.Status{State: "acting", Message: "Syncing with system..."}, model.Status())
	require.False(t, model.Processing())
	require.True(t, stream.Closed())
}

func TestFullScenarioOverSSE(t *testing.T) {
	gotText := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotText <- r.URL.Query().Get("text")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"state\":\"understanding\",\"message\":\"Parsing...\"}\n\n")
		fmt.Fprint(w, "data: {\"state\":\"acting\",\"message\":\"Syncing with system...\",\"events\":[{\"summary\":\"Standup\",\"start\":{\"dateTime\":\"2024-01-01T09:00:00\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"state\":\"completed\",\"message\":\"Done\",\"ai_text\":\"Sure thing\"}\n\n")
	}))
	defer srv.Close()

	m, model, speaker := newMachine(processor.New(srv.URL))
	model.SetTranscript("what's on tomorrow")

	var mu sync.Mutex
	var seen []status.Status
	model.Subscribe(func(s status.Snapshot) {
		if s.Status.State == status.Idle {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if n := len(seen); n == 0 || seen[n-1].State != s.Status.State || seen[n-1].Message != s.Status.Message {
			seen = append(seen, s.Status)
		}
	})

	require.True(t, m.Submit(context.Background(), "what's on tomorrow"))
	m.Wait()

	require.Equal(t, "what's on tomorrow", <-gotText)

	mu.Lock()
	defer mu.Unlock()
	var msgs []string
	for _, s := range seen {
		msgs = append(msgs, s.Message)
	}
	require.Equal(t, []string{"Thinking...", "Parsing...", "Syncing with system...", "Done"}, msgs)
	require.Len(t, seen[2].Events, 1)
	require.Equal(t, "Standup", seen[2].Events[0].Title())
	require.Nil(t, seen[3].Events)

	require.Empty(t, model.Transcript())
	require.False(t, model.Processing())
	calls := speaker.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "Sure thing", calls[1].Utterance.Text)
}

func TestStreamEndWithoutCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"state\":\"acting\",\"message\":\"Working\"}\n\n")
	}))
	defer srv.Close()

	m, model, _ := newMachine(processor.New(srv.URL))
	require.True(t, m.Submit(context.Background(), "half"))
	m.Wait()

	require.Equal(t, status.Status{State: status.Error, Message: status.MessageConnectionLost}, model.Status())
	require.False(t, model.Processing())
}

func TestAbortWithoutCommand(t *testing.T) {
	m, model, _ := newMachine(processor.NewFakeOpener())
	m.Abort()
	require.Equal(t, status.Idle, model.Status().State)
}
