// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"io"
	"sync"
	"time"

	applog "lipsync/internal/log"
)

// MediaStream plays a Media into a Sink at real-time pace, presenting a
// recording as a live Stream. Used for loopback testing and for clients
// that want file input analyzed without playback.
type MediaStream struct {
	media     Media
	blockSize int

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup

	finished   chan struct{}
	finishOnce sync.Once
}

// NewMediaStream wraps m. blockSize defaults to 256.
func NewMediaStream(m Media, blockSize int) *MediaStream {
	if blockSize <= 0 {
		blockSize = 256
	}
	return &MediaStream{media: m, blockSize: blockSize, finished: make(chan struct{})}
}

func (s *MediaStream) SampleRate() float64 { return s.media.SampleRate() }

// Finished is closed once every sample has been delivered.
func (s *MediaStream) Finished() <-chan struct{} { return s.finished }

func (s *MediaStream) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}
	s.done = make(chan struct{})
	done := s.done

	period := time.Duration(float64(s.blockSize) / s.media.SampleRate() * float64(time.Second))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		block := make([]float32, s.blockSize)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			n, err := s.media.Read(block)
			if n > 0 {
				sink(block[:n])
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					applog.Errorf("MediaStream: read failed: %v", err)
				}
				s.finishOnce.Do(func() { close(s.finished) })
				return
			}
		}
	}()
	return nil
}

func (s *MediaStream) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.done = nil
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// SliceMedia serves samples from memory.
type SliceMedia struct {
	Samples []float32
	Rate    float64
	pos     int
}

func (m *SliceMedia) SampleRate() float64 { return m.Rate }

func (m *SliceMedia) Read(dst []float32) (int, error) {
	if m.pos >= len(m.Samples) {
		return 0, io.EOF
	}
	n := copy(dst, m.Samples[m.pos:])
	m.pos += n
	return n, nil
}

func (m *SliceMedia) Close() error { return nil }

var (
	_ Stream = (*MediaStream)(nil)
	_ Media  = (*SliceMedia)(nil)
)
