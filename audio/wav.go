package audio

import (
	"fmt"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

// LoadWAV reads a PCM WAV file and returns it as 16-bit mono at rate,
// downmixing and resampling as needed.
func LoadWAV(fs afero.Fs, path string, rate int) ([]int16, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a PCM wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	shift := int(d.BitDepth) - 16
	mono := make([]float64, len(buf.Data)/channels)
	for i := range mono {
		var sum int
		for c := 0; c < channels; c++ {
			v := buf.Data[i*channels+c]
			if shift > 0 {
				v >>= shift
			} else if shift < 0 {
				v <<= -shift
			}
			sum += v
		}
		mono[i] = float64(sum) / float64(channels)
	}
	return resample(mono, buf.Format.SampleRate, rate), nil
}

func resample(in []float64, from, to int) []int16 {
	if from <= 0 || from == to {
		out := make([]int16, len(in))
		for i, v := range in {
			out[i] = clamp16(v)
		}
		return out
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		v := in[j]
		if j+1 < len(in) {
			v += (in[j+1] - in[j]) * frac
		}
		out[i] = clamp16(v)
	}
	return out
}

func clamp16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// Recorder saves the raw capture of one session as a 16-bit mono WAV file.
type Recorder struct {
	w    *wave.Writer
	path string
}

func NewRecorder(fs afero.Fs, path string, rate int) (*Recorder, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := wave.NewWriter(wave.WriterParam{
		Out:           f,
		Channel:       1,
		SampleRate:    rate,
		BitsPerSample: 16,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wav writer: %w", err)
	}
	return &Recorder{w: w, path: path}, nil
}

func (r *Recorder) Path() string { return r.path }

// Write accepts little-endian 16-bit PCM.
func (r *Recorder) Write(pcm []byte) error {
	_, err := r.w.WriteSample16(PCMToSamples(pcm))
	return err
}

func (r *Recorder) Close() error { return r.w.Close() }

func PCMToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
