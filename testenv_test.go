package main

import (
	"context"
	"strings"
	"testing"

	"antik/audio"
	"antik/processor"
	"antik/speech"
	"antik/transcriber"

	"github.com/stretchr/testify/require"
)

func TestScriptListenAndSubmit(t *testing.T) {
	st, _ := newTestState(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	actx := audio.NewFakeContext(tone(16000), 16000, false)
	tr := transcriber.NewFake(transcriber.FakeReply{Text: "turn on the lights"})
	opener := processor.NewFakeOpener(processor.NewFakeStream(
		processor.ProgressEvent{State: "acting", Message: "Syncing with system..."},
		processor.ProgressEvent{State: "completed", Message: "Done", AIText: "Lights are on."},
	))
	a := st.build(ctx, func() (audio.Context, error) { return actx, nil }, tr, opener, &speech.Fake{})
	defer a.close()

	var out strings.Builder
	in := strings.NewReader("START\nSLEEP 150\nSTOP\nWAIT\nSTATUS\nQUIT\nSTART\n")
	require.NoError(t, a.script(ctx, in, &out))

	got := out.String()
	require.Contains(t, got, "STATUS listening Listening...\n")
	require.Contains(t, got, "TRANSCRIPT turn on the lights\n")
	require.Contains(t, got, "STATUS understanding Thinking...\n")
	require.Contains(t, got, "STATUS acting Syncing with system...\n")
	require.True(t, strings.HasSuffix(got, "STATUS completed Done\n"), got)
	require.Equal(t, []string{"turn on the lights"}, opener.Texts())
	require.False(t, a.pipeline.Listening(), "commands after QUIT are not run")
}

func TestScriptSubmitGate(t *testing.T) {
	st, _ := newTestState(t)
	ctx := context.Background()
	stream := processor.NewFakeStream()
	a := st.build(ctx, nil, transcriber.NewFake(), processor.NewFakeOpener(stream), &speech.Fake{})
	defer a.close()

	var out strings.Builder
	in := strings.NewReader("SUBMIT first\nSUBMIT second\nSUBMIT\nBOGUS\n")
	require.NoError(t, a.script(ctx, in, &out))

	require.Equal(t, 2, strings.Count(out.String(), "REJECTED\n"))
	require.Contains(t, out.String(), `ERROR unknown command "BOGUS"`)
}
