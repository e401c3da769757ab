package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"antik/log"
	"antik/sound"

	"github.com/go-audio/wav"
)

const (
	espeakBaseWPM   = 175
	espeakBasePitch = 50
)

// espeak renders speech to WAV on stdout and plays it through sound.Play.
type espeak struct {
	bin    string
	run    runFunc
	player player

	voicesOnce sync.Once
	voices     []Voice
	voicesErr  error
}

func newEspeak(bin string) *espeak { return &espeak{bin: bin, run: runCommand} }

func (e *espeak) Name() string    { return e.bin }
func (e *espeak) Available() bool { return commandAvailable(e.bin) }

func (e *espeak) Voices(ctx context.Context) ([]Voice, error) {
	e.voicesOnce.Do(func() {
		out, err := e.run(ctx, e.bin, "--voices")
		if err != nil {
			e.voicesErr = fmt.Errorf("%s --voices: %w", e.bin, err)
			return
		}
		e.voices = parseEspeakVoices(out)
	})
	return e.voices, e.voicesErr
}

// parseEspeakVoices reads the table printed by --voices:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 2)
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, Voice{
			Name: strings.ReplaceAll(fields[3], "_", " "),
			Lang: fields[1],
		})
	}
	return voices
}

func (e *espeak) args(u Utterance) []string {
	rate, pitch := u.Rate, u.Pitch
	if rate <= 0 {
		rate = 1
	}
	args := []string{
		"--stdout",
		"-s", strconv.Itoa(int(espeakBaseWPM * rate)),
		"-p", strconv.Itoa(min(99, int(espeakBasePitch*pitch))),
	}
	if u.Voice != nil {
		args = append(args, "-v", u.Voice.Lang)
	}
	return append(args, "--", u.Text)
}

// Speak renders u and plays it. Empty text renders nothing audible and
// only warms the engine.
func (e *espeak) Speak(u Utterance) {
	warm := strings.TrimSpace(u.Text) == ""
	args := e.args(u)
	e.player.start(func(ctx context.Context) {
		if warm {
			e.Voices(context.WithoutCancel(ctx))
		}
		out, err := e.run(ctx, e.bin, args...)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("%s: %v", e.bin, err)
			}
			return
		}
		d := wav.NewDecoder(bytes.NewReader(fixStreamedWAV(out)))
		buf, err := d.FullPCMBuffer()
		if err != nil {
			log.Errorf("%s: decoding wav: %v", e.bin, err)
			return
		}
		if len(buf.Data) == 0 {
			return
		}
		samples := make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
		if err := sound.Play(ctx, samples, buf.Format.SampleRate, buf.Format.NumChannels); err != nil && ctx.Err() == nil {
			log.Errorf("speech playback: %v", err)
		}
	})
}

func (e *espeak) Cancel() { e.player.stop() }

func (e *espeak) Wait() { e.player.wait() }

// fixStreamedWAV rewrites the RIFF and data chunk sizes, which espeak leaves
// at a placeholder when writing to a pipe.
func fixStreamedWAV(b []byte) []byte {
	if len(b) < 12 || string(b[:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return b
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		if id == "data" {
			binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(len(b)-off-8))
			break
		}
		off += 8 + size + size%2
	}
	return b
}
