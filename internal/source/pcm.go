// SPDX-License-Identifier: MIT
package source

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-audio/audio"
)

// Int16ToFloat32 scales signed 16-bit PCM to [-1, 1).
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToInt16 clamps to [-1, 1] and scales asymmetrically so both
// extremes are reachable.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// DecodePCM16LE converts little-endian 16-bit PCM bytes. A trailing odd
// byte is ignored.
func DecodePCM16LE(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(in []float32) []byte {
	pcm := Float32ToInt16(in)
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// DecodeBase64PCM16 decodes a base64 string of little-endian 16-bit PCM,
// the format most TTS streaming APIs use.
func DecodeBase64PCM16(s string) ([]float32, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return DecodePCM16LE(b), nil
}

// EncodeBase64PCM16 is the inverse of DecodeBase64PCM16.
func EncodeBase64PCM16(in []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16LE(in))
}

// Resample converts between rates with linear interpolation. The input is
// returned unchanged when the rates match.
func Resample(in []float32, fromRate, toRate float64) []float32 {
	if fromRate == toRate || len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		return in
	}
	ratio := fromRate / toRate
	out := make([]float32, int(math.Round(float64(len(in))/ratio)))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := min(lo+1, last)
		frac := float32(pos - float64(lo))
		out[i] = in[lo]*(1-frac) + in[hi]*frac
	}
	return out
}

// Downmix averages interleaved frames to mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// FromBuffer converts any go-audio buffer to normalized mono float32.
// Integer buffers are scaled by their source bit depth (16 if unset).
func FromBuffer(buf audio.Buffer) ([]float32, float64, error) {
	format := buf.PCMFormat()
	if format == nil {
		return nil, 0, fmt.Errorf("audio buffer has no format")
	}
	channels := max(format.NumChannels, 1)

	var samples []float32
	switch b := buf.(type) {
	case *audio.Float32Buffer:
		samples = b.Data
	case *audio.FloatBuffer:
		samples = make([]float32, len(b.Data))
		for i, v := range b.Data {
			samples[i] = float32(v)
		}
	case *audio.IntBuffer:
		depth := b.SourceBitDepth
		if depth == 0 {
			depth = 16
		}
		scale := float32(math.Pow(2, float64(depth-1)))
		samples = make([]float32, len(b.Data))
		for i, v := range b.Data {
			samples[i] = float32(v) / scale
		}
	default:
		samples = buf.AsFloat32Buffer().Data
	}

	return Downmix(samples, channels), float64(format.SampleRate), nil
}
