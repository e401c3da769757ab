package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"antik/log"
)

const sayBaseWPM = 180

// say drives the macOS say(1) command directly.
type say struct {
	run    runFunc
	player player

	voicesOnce sync.Once
	voices     []Voice
	voicesErr  error
}

func newSay() *say { return &say{run: runCommand} }

func (s *say) Name() string    { return "say" }
func (s *say) Available() bool { return commandAvailable("say") }

func (s *say) Voices(ctx context.Context) ([]Voice, error) {
	s.voicesOnce.Do(func() {
		out, err := s.run(ctx, "say", "-v", "?")
		if err != nil {
			s.voicesErr = fmt.Errorf("say -v ?: %w", err)
			return
		}
		s.voices = parseSayVoices(out)
	})
	return s.voices, s.voicesErr
}

// parseSayVoices reads lines such as
//
//	Samantha            en_US    # Hello! My name is Samantha.
//	Bad News            en_US    # The light you see at the end of the tunnel...
func parseSayVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, Voice{
			Name: strings.Join(fields[:len(fields)-1], " "),
			Lang: fields[len(fields)-1],
		})
	}
	return voices
}

func (s *say) args(u Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	args := []string{"-r", strconv.Itoa(int(sayBaseWPM * rate))}
	if u.Voice != nil {
		args = append(args, "-v", u.Voice.Name)
	}
	return append(args, "--", u.Text)
}

// Speak plays u. Empty text speaks nothing and only warms the engine.
func (s *say) Speak(u Utterance) {
	warm := strings.TrimSpace(u.Text) == ""
	args := s.args(u)
	s.player.start(func(ctx context.Context) {
		if warm {
			s.Voices(context.WithoutCancel(ctx))
		}
		if _, err := s.run(ctx, "say", args...); err != nil && ctx.Err() == nil {
			log.Errorf("say: %v", err)
		}
	})
}

func (s *say) Cancel() { s.player.stop() }

func (s *say) Wait() { s.player.wait() }
