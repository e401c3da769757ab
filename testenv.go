package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"antik/audio"
	"antik/encoder"
	"antik/hotkey"
	"antik/log"
	"antik/processor"
	"antik/sound"
	"antik/status"
	"antik/transcriber"
)

// runTestMode replays wavPath as the microphone against the configured
// server and drives the app from line commands on stdin.
func (st *appState) runTestMode(ctx context.Context, wavPath string) error {
	sound.Disable()

	samples, err := audio.LoadWAV(st.fs, wavPath, encoder.SampleRate)
	if err != nil {
		return fmt.Errorf("loading WAV: %w", err)
	}
	speaker, err := st.newSpeaker()
	if err != nil {
		return err
	}
	url := st.cfg.Server.URL
	log.SessionStart(url, "test:"+wavPath, speaker.Name())

	fake := audio.NewFakeContext(samples, encoder.SampleRate, true)
	open := func() (audio.Context, error) { return fake, nil }

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := st.build(ctx, open, transcriber.New(url), processor.New(url), speaker)
	defer a.close()

	return a.script(ctx, os.Stdin, st.out)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	fmt.Fprintf(s.w, format, args...)
	s.mu.Unlock()
}

// script executes one command per line until QUIT or end of input:
//
//	START | STOP | DISCARD     capture pipeline
//	SUBMIT <text>             typed command
//	KEYDOWN | KEYUP           simulated global shortcut
//	WAIT                      until the in-flight command finishes
//	SLEEP <ms>
//	STATUS                    print the current status
//	QUIT
//
// Status and transcript changes are printed as they happen.
func (a *app) script(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}

	var last status.Snapshot
	a.model.Subscribe(func(s status.Snapshot) {
		if s.Status.State != last.Status.State || s.Status.Message != last.Status.Message {
			w.printf("STATUS %s %s\n", s.Status.State, s.Status.Message)
		}
		if s.Transcript != last.Transcript {
			w.printf("TRANSCRIPT %s\n", s.Transcript)
		}
		last = s
	})

	hk := hotkey.NewFake()
	tr := hotkey.NewTrigger(hk, longPress)
	defer tr.Close()
	go driveTrigger(ctx, tr, a)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		verb, arg, _ := strings.Cut(line, " ")
		switch verb {
		case "":
		case "START":
			if err := a.pipeline.Start(ctx); err != nil {
				w.printf("ERROR %v\n", err)
			}
		case "STOP":
			a.pipeline.Stop(false)
		case "DISCARD":
			a.pipeline.Stop(true)
		case "SUBMIT":
			if !a.machine.Submit(ctx, arg) {
				w.printf("REJECTED\n")
			}
		case "KEYDOWN":
			hk.SimKeydown()
		case "KEYUP":
			hk.SimKeyup()
		case "WAIT":
			a.machine.Wait()
		case "SLEEP":
			ms, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				w.printf("ERROR bad SLEEP %q\n", arg)
				continue
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
		case "STATUS":
			s := a.model.Status()
			w.printf("STATUS %s %s\n", s.State, s.Message)
		case "QUIT":
			return nil
		default:
			log.Warnf("test mode: unknown command %q", line)
			w.printf("ERROR unknown command %q\n", verb)
		}
	}
	return scanner.Err()
}
