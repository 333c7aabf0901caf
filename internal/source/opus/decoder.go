// SPDX-License-Identifier: MIT
// Package opus decodes Opus packets from realtime TTS and voice transports
// into mono float32 chunks ready for the engine's feed path.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"lipsync/internal/source"
)

// maxFrameMs is the longest frame an Opus packet may carry.
const maxFrameMs = 120

// Decoder keeps per-stream Opus state. Not safe for concurrent use.
type Decoder struct {
	dec      *gopus.Decoder
	rate     int
	channels int
	maxFrame int
}

// NewDecoder creates a decoder for the stream's rate (8000, 12000, 16000,
// 24000 or 48000) and channel count.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{
		dec:      dec,
		rate:     sampleRate,
		channels: channels,
		maxFrame: sampleRate * maxFrameMs / 1000,
	}, nil
}

// SampleRate of the decoded audio.
func (d *Decoder) SampleRate() float64 { return float64(d.rate) }

// Decode returns the packet's audio downmixed to mono.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, d.maxFrame, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return source.Downmix(source.Int16ToFloat32(pcm), d.channels), nil
}
