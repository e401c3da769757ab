package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"antik/audio"
	"antik/doctor"
	"antik/encoder"
	"antik/log"
	"antik/processor"
	"antik/speech"
	"antik/status"
	"antik/transcriber"

	"github.com/spf13/cobra"
)

func newAskCmd(st *appState) *cobra.Command {
	var noSpeak bool
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send a typed command and follow its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var speaker speech.Speaker = speech.Nop{}
			if !noSpeak {
				s, err := st.newSpeaker()
				if err != nil {
					return err
				}
				speaker = s
			}
			return st.ask(cmd.Context(), strings.Join(args, " "), processor.New(st.cfg.Server.URL), speaker)
		},
	}
	cmd.Flags().BoolVar(&noSpeak, "no-speak", false, "print the reply without speaking it")
	return cmd
}

// ask runs one command through the state machine and prints every status
// it passes through. It fails with exit code 1 when the channel is lost.
func (st *appState) ask(ctx context.Context, text string, opener processor.Opener, speaker speech.Speaker) error {
	log.SessionStart(st.cfg.Server.URL, "", speaker.Name())
	a := st.build(ctx, nil, nil, opener, speaker)

	stopSpinner, describe := startSpinner(status.MessageThinking)
	var last status.Status
	a.model.Subscribe(func(s status.Snapshot) {
		if s.Status.State == status.Idle || (s.Status.State == last.State && s.Status.Message == last.Message) {
			return
		}
		last = s.Status
		describe(s.Status.Message)
		printStatus(st.out, s.Status)
	})

	if !a.machine.Submit(ctx, text) {
		stopSpinner()
		return errors.New("nothing to send")
	}
	a.machine.Wait()
	stopSpinner()

	if reply := a.machine.LastReply(); reply != "" {
		fmt.Fprintf(st.out, "\n%s\n", reply)
	}
	a.speaker.Wait()
	if a.model.Status().State == status.Error {
		return exitError{code: 1}
	}
	return nil
}

func printStatus(w io.Writer, s status.Status) {
	fmt.Fprintf(w, "[%s] %s\n", s.State, s.Message)
	if len(s.Events) == 0 {
		return
	}
	fmt.Fprintln(w, "  Upcoming Schedule")
	for _, e := range s.Events {
		fmt.Fprintf(w, "    %-10s %s\n", e.When(), e.Title())
	}
}

func newTranscribeCmd(st *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Upload a WAV file once and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.transcribeFile(cmd.Context(), args[0], transcriber.New(st.cfg.Server.URL))
		},
	}
}

func (st *appState) transcribeFile(ctx context.Context, path string, tr transcriber.Transcriber) error {
	samples, err := audio.LoadWAV(st.fs, path, encoder.SampleRate)
	if err != nil {
		return err
	}
	clip, err := encoder.EncodeFLAC(samples)
	if err != nil {
		return err
	}

	stop, _ := startSpinner("Transcribing...")
	res, err := tr.Transcribe(ctx, [][]byte{clip})
	stop()
	if err != nil {
		return err
	}
	if res.Text == "" {
		fmt.Fprintln(st.out, "(no speech detected)")
		return nil
	}
	fmt.Fprintln(st.out, res.Text)
	return nil
}

func newDevicesCmd(st *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				return err
			}
			defer actx.Close()
			return listDevices(st.out, actx, st.cfg.Capture.Device)
		},
	}
}

func listDevices(w io.Writer, actx audio.Context, selected string) error {
	devices, err := actx.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	chosen, _ := audio.FindDevice(actx, selected)
	for _, d := range devices {
		mark := " "
		if chosen != nil && chosen.ID == d.ID {
			mark = "*"
		}
		suffix := ""
		if audio.IsBluetooth(d.Name) {
			suffix = " (bluetooth)"
		}
		fmt.Fprintf(w, "%s %s%s\n", mark, d.Name, suffix)
	}
	return nil
}

func newVoicesCmd(st *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices of the speech engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := st.newSpeaker()
			if err != nil {
				return err
			}
			return listVoices(cmd.Context(), st.out, s, st.cfg.Speech.PreferredVoices)
		},
	}
}

func listVoices(ctx context.Context, w io.Writer, s speech.Speaker, preferred []string) error {
	voices, err := s.Voices(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "engine: %s\n", s.Name())
	chosen := speech.PickVoice(voices, preferred)
	for _, v := range voices {
		mark := " "
		if chosen != nil && *chosen == v {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-30s %s\n", mark, v.Name, v.Lang)
	}
	return nil
}

func newDoctorCmd(st *appState) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check microphone, service, speech, shortcut and clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _ := st.newSpeaker()
			code := doctor.Run(cmd.Context(), doctor.Options{
				Out:         st.out,
				Open:        audio.NewContext,
				Device:      st.cfg.Capture.Device,
				Transcriber: transcriber.New(st.cfg.Server.URL),
				Speaker:     s,
				Preferred:   st.cfg.Speech.PreferredVoices,
				SkipLocal:   !local,
			})
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "desktop", true, "also check the global shortcut and clipboard")
	return cmd
}
