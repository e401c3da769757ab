package encoder

import (
	"encoding/binary"
	"sync"
	"time"
)

type job struct {
	block []int16
	cut   chan struct{}
}

// Segmenter feeds PCM into an Encoder on a background goroutine and hands out
// the bytes produced since the previous Cut. Only whole BlockSize blocks are
// encoded; a trailing partial block waits for more samples. Concatenating
// every segment in order yields the full encoded stream.
type Segmenter struct {
	enc Encoder

	mu        sync.Mutex
	sampleBuf []int16
	jobs      chan job
	done      chan struct{}
	offset    int
	closed    bool
}

func NewSegmenter(enc Encoder) *Segmenter {
	s := &Segmenter{
		enc:  enc,
		jobs: make(chan job, 64),
		done: make(chan struct{}),
	}
	go s.encodeLoop()
	return s
}

func (s *Segmenter) encodeLoop() {
	defer close(s.done)
	for j := range s.jobs {
		if j.cut != nil {
			close(j.cut)
			continue
		}
		start := time.Now()
		s.enc.EncodeBlock(j.block)
		s.enc.AddEncodeTime(time.Since(start))
	}
}

// Feed accepts little-endian 16-bit mono PCM.
func (s *Segmenter) Feed(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s.sampleBuf = append(s.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	for len(s.sampleBuf) >= BlockSize {
		block := make([]int16, BlockSize)
		copy(block, s.sampleBuf[:BlockSize])
		s.sampleBuf = s.sampleBuf[BlockSize:]
		s.jobs <- job{block: block}
	}
}

// Cut waits for queued blocks to be encoded and returns a copy of the bytes
// written since the last Cut. The first segment carries the stream header.
func (s *Segmenter) Cut() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	flushed := make(chan struct{})
	s.jobs <- job{cut: flushed}
	<-flushed

	all := s.enc.Bytes()
	seg := make([]byte, len(all)-s.offset)
	copy(seg, all[s.offset:])
	s.offset = len(all)
	return seg
}

// Frames is the number of samples encoded so far.
func (s *Segmenter) Frames() uint64 { return s.enc.TotalFrames() }

func (s *Segmenter) EncodeTime() time.Duration { return s.enc.EncodeTime() }

// Close drops any partial block and stops the encode goroutine.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sampleBuf = nil
	close(s.jobs)
	s.mu.Unlock()

	<-s.done
	return s.enc.Close()
}
