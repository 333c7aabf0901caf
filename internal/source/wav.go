// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVMedia streams a PCM WAV file as normalized mono samples.
type WAVMedia struct {
	file     *os.File
	decoder  *wav.Decoder
	rate     float64
	channels int
	divisor  float32

	buf     *audio.IntBuffer
	pending []float32 // decoded but not yet returned
	eof     bool
}

// OpenWAV opens path and validates the header.
func OpenWAV(path string) (*WAVMedia, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media: %w", err)
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid WAV audio file", path)
	}
	if decoder.BitDepth == 0 || decoder.NumChans == 0 {
		file.Close()
		return nil, fmt.Errorf("%s: unsupported WAV format", path)
	}

	channels := int(decoder.NumChans)
	return &WAVMedia{
		file:     file,
		decoder:  decoder,
		rate:     float64(decoder.SampleRate),
		channels: channels,
		divisor:  float32(math.Pow(2, float64(decoder.BitDepth)-1)),
		buf: &audio.IntBuffer{
			Data:   make([]int, 4096*channels),
			Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
		},
	}, nil
}

func (m *WAVMedia) SampleRate() float64 { return m.rate }

// Channels is the channel count in the file; Read always returns mono.
func (m *WAVMedia) Channels() int { return m.channels }

func (m *WAVMedia) Read(dst []float32) (int, error) {
	for len(m.pending) < len(dst) && !m.eof {
		n, err := m.decoder.PCMBuffer(m.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("error decoding WAV: %w", err)
		}
		if n == 0 {
			m.eof = true
			break
		}
		frames := n / m.channels
		for f := range frames {
			var sum float32
			for c := range m.channels {
				sum += float32(m.buf.Data[f*m.channels+c]) / m.divisor
			}
			m.pending = append(m.pending, sum/float32(m.channels))
		}
	}

	n := copy(dst, m.pending)
	m.pending = m.pending[n:]
	if n == 0 && m.eof {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAll decodes the remainder of the file.
func (m *WAVMedia) ReadAll() ([]float32, error) {
	var out []float32
	block := make([]float32, 4096)
	for {
		n, err := m.Read(block)
		out = append(out, block[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func (m *WAVMedia) Close() error {
	return m.file.Close()
}

var _ Media = (*WAVMedia)(nil)
