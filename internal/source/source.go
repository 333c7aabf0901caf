// SPDX-License-Identifier: MIT
/*
Package source defines the inputs the engine can bind: live streams that are
analyzed only, media that plays through the output, and helpers that turn
the PCM encodings TTS services emit into float32 mono samples.
*/
package source

import (
	"errors"
	"io"
)

var ErrAlreadyStarted = errors.New("stream already started")

// Sink receives captured blocks on the capture thread. It must not block
// and must not retain buf after returning.
type Sink func(buf []float32)

// Stream is a live capture such as a microphone. The engine analyzes it but
// never routes it to the output.
type Stream interface {
	SampleRate() float64
	Start(sink Sink) error
	Stop() error
}

// Media is a finite, seekable-from-start recording such as a WAV file.
// Read fills dst with mono samples and returns io.EOF after the last one.
type Media interface {
	io.Closer
	SampleRate() float64
	Read(dst []float32) (int, error)
}
