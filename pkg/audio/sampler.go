package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const DefaultBufferLength = 240

// Sampler produces fixed size frames of signed 16 bit samples. Record
// returns false when no new frame is available; it must never block.
type Sampler interface {
	Record([]int16) bool
}

// StreamSampler reads raw little endian signed 16 bit mono PCM data, for
// example the output of "arecord -f S16_LE -c 1", and keeps the last
// complete frame.
type StreamSampler struct {
	r         io.ReadCloser
	bufLength int

	latest []int16
	fresh  bool
	err    error
	mu     sync.Mutex

	wg sync.WaitGroup
}

func NewStreamSampler(r io.ReadCloser, bufLength int) *StreamSampler {
	if bufLength <= 0 {
		bufLength = DefaultBufferLength
	}

	return &StreamSampler{
		r:         r,
		bufLength: bufLength,

		latest: make([]int16, bufLength),
	}
}

func (s *StreamSampler) Start() {
	s.wg.Add(1)
	go s.main()
}

func (s *StreamSampler) Close() error {
	err := s.r.Close()
	s.wg.Wait()

	return err
}

// Err returns the error which stopped the sampler, if any.
func (s *StreamSampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *StreamSampler) Record(buf []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh {
		return false
	}

	copy(buf, s.latest)
	s.fresh = false

	return true
}

func (s *StreamSampler) main() {
	defer s.wg.Done()

	frame := make([]int16, s.bufLength)

	for {
		if err := binary.Read(s.r, binary.LittleEndian, frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = nil
			} else {
				err = fmt.Errorf("cannot read samples: %w", err)
			}

			s.mu.Lock()
			s.err = err
			s.mu.Unlock()

			return
		}

		s.mu.Lock()
		copy(s.latest, frame)
		s.fresh = true
		s.mu.Unlock()
	}
}
