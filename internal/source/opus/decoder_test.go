// SPDX-License-Identifier: MIT
package opus

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"layeh.com/gopus"

	"lipsync/internal/source"
	"lipsync/pkg/utils"
)

func TestDecodeRoundTrip(t *testing.T) {
	const (
		rate  = 48000
		frame = rate * 20 / 1000
	)

	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	dec, err := NewDecoder(rate, 1)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if dec.SampleRate() != rate {
		t.Errorf("SampleRate = %f", dec.SampleRate())
	}

	var decoded int
	for i := range 10 {
		pcm := source.Float32ToInt16(utils.GenerateSineWaveAt(i*frame, frame, rate, 440, 0.5))
		packet, err := enc.Encode(pcm, frame, 4000)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		samples, err := dec.Decode(packet)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(samples) != frame {
			t.Fatalf("decoded %d samples, want %d", len(samples), frame)
		}
		decoded += len(samples)
	}
	if decoded != 10*frame {
		t.Errorf("decoded %d samples total", decoded)
	}
}

func TestNewDecoderRejectsRate(t *testing.T) {
	if _, err := NewDecoder(44100, 1); err == nil {
		t.Error("expected error for unsupported rate")
	}
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	packets := [][]byte{{1, 2, 3}, bytes.Repeat([]byte{7}, 300)}
	for _, p := range packets {
		if err := WritePacket(&buf, p); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write([]byte{0, 5, 1}) // truncated

	r := NewPacketReader(&buf)
	for i, want := range packets {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("packet %d = %v", i, got)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated packet error = %v", err)
	}
	if _, err := NewPacketReader(bytes.NewReader(nil)).Next(); !errors.Is(err, io.EOF) {
		t.Errorf("empty stream error = %v", err)
	}
	if err := WritePacket(&buf, nil); err == nil {
		t.Error("empty packet accepted")
	}
}
