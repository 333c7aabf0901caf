// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrAlreadyRecording = errors.New("already recording")

// Recorder writes mono float32 audio to a 16-bit PCM WAV file. Write is
// called from the feed path, never from the output callback.
type Recorder struct {
	sampleRate int
	bitDepth   int

	mu          sync.Mutex
	isRecording atomic.Bool
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer
	written     int
}

// NewRecorder returns an idle recorder. bitDepth is 16 or 24.
func NewRecorder(sampleRate, bitDepth int) *Recorder {
	if bitDepth != 24 {
		bitDepth = 16
	}
	return &Recorder{sampleRate: sampleRate, bitDepth: bitDepth}
}

// Start opens filename and begins accepting samples.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return ErrAlreadyRecording
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, 1, 1)
	r.sampleBuf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		Data:           make([]int, 0, 4096),
		SourceBitDepth: r.bitDepth,
	}
	r.written = 0
	r.isRecording.Store(true)
	return nil
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool { return r.isRecording.Load() }

// Write appends samples. It is a no-op when not recording.
func (r *Recorder) Write(samples []float32) error {
	if !r.isRecording.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	scale := float64(int(1)<<(r.bitDepth-1) - 1)
	data := r.sampleBuf.Data[:0]
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		data = append(data, int(math.Round(v*scale)))
	}
	r.sampleBuf.Data = data

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("error writing to WAV file: %w", err)
	}
	r.written += len(samples)
	return nil
}

// Written returns the number of samples written to the current file.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Stop finalizes the WAV header and closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}

	return nil
}
