package main

import (
	"bytes"
	"math"
	"testing"
	"time"

	"antik/config"

	"github.com/spf13/afero"
)

func newTestState(t *testing.T) (*appState, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.Cues = false
	cfg.Capture.SegmentInterval = 20 * time.Millisecond
	cfg.Capture.FrameInterval = 5 * time.Millisecond
	out := &bytes.Buffer{}
	return &appState{fs: afero.NewMemMapFs(), out: out, cfg: cfg}, out
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}
