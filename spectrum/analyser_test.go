package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sine(freqBin float64, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freqBin*float64(i)/FFTSize))
	}
	return out
}

func TestSilenceIsZero(t *testing.T) {
	a := NewAnalyser()
	a.Write(make([]int16, FFTSize))
	bins := a.ByteFrequencyData()
	for i, v := range bins {
		require.Zerof(t, v, "bin %d", i)
	}
}

func TestToneLandsInItsBin(t *testing.T) {
	a := NewAnalyser()
	a.Smoothing = 0
	// quiet enough that neighbouring bins stay below the clip level
	a.Write(sine(8, FFTSize*4, 0.05))

	bins := a.ByteFrequencyData()
	peak := 0
	for i := range bins {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	require.Equal(t, 8, peak)
	require.Greater(t, bins[8], bins[20])
}

func TestSmoothingDecaysAfterSilence(t *testing.T) {
	a := NewAnalyser()
	a.Write(sine(4, FFTSize, 0.9))
	loud := a.ByteFrequencyData()[4]

	a.Write(make([]int16, FFTSize))
	after := a.ByteFrequencyData()[4]
	require.Greater(t, loud, uint8(0))
	require.LessOrEqual(t, after, loud)
	require.Greater(t, after, uint8(0), "smoothing keeps some energy for a frame")
}

func TestWritePCMMatchesWrite(t *testing.T) {
	samples := sine(3, FFTSize, 0.5)
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}

	a, b := NewAnalyser(), NewAnalyser()
	a.Write(samples)
	b.WritePCM(pcm)
	require.Equal(t, a.ByteFrequencyData(), b.ByteFrequencyData())
}

func TestReset(t *testing.T) {
	a := NewAnalyser()
	a.Write(sine(5, FFTSize, 0.9))
	a.ByteFrequencyData()
	a.Reset()
	require.Equal(t, [Bins]uint8{}, a.ByteFrequencyData())
}
