// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"os"
	"testing"
)

const (
	testSize       = 1024
	testSampleRate = 24000
	testFrequency  = 440.0 // A4 note
)

var (
	testMagnitudes []float64
	testSineWave   []float32
)

func TestMain(m *testing.M) {
	testMagnitudes = make([]float64, testSize)

	// Creates a "hill" with peak at position testSize/4.
	for i := range testMagnitudes {
		testMagnitudes[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}

	testSineWave = GenerateSineWave(testSize, testSampleRate, testFrequency, 0.5)

	os.Exit(m.Run())
}

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}

	for i := range 3 {
		if err := mt.Send(i); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	sent := mt.Sent()
	if len(sent) != 3 {
		t.Fatalf("Sent() length = %d, want 3", len(sent))
	}
	sent[0] = "mutated"
	if mt.Sent()[0] != 0 {
		t.Error("Sent() returned internal slice instead of a copy")
	}

	if mt.Closed() {
		t.Error("transport closed before Close()")
	}
	mt.Close()
	if !mt.Closed() {
		t.Error("Closed() = false after Close()")
	}
}

func TestGenerateSineWave(t *testing.T) {
	if len(testSineWave) != testSize {
		t.Fatalf("length = %d, want %d", len(testSineWave), testSize)
	}

	var peak float32
	for _, s := range testSineWave {
		peak = max(peak, s, -s)
	}
	if peak > 0.5 || peak < 0.49 {
		t.Errorf("peak amplitude = %v, want ~0.5", peak)
	}
	if testSineWave[0] != 0 {
		t.Errorf("first sample = %v, want 0", testSineWave[0])
	}
}

func TestGenerateSineWaveAtIsContinuous(t *testing.T) {
	whole := GenerateSineWave(256, testSampleRate, 1000, 0.5)
	first := GenerateSineWaveAt(0, 128, testSampleRate, 1000, 0.5)
	second := GenerateSineWaveAt(128, 128, testSampleRate, 1000, 0.5)

	for i := range 128 {
		if whole[i] != first[i] || whole[128+i] != second[i] {
			t.Fatalf("block-wise generation diverged at %d", i)
		}
	}
}

func TestGenerateComplexWaveBounded(t *testing.T) {
	wave := GenerateComplexWave(testSize, testSampleRate)
	for i, s := range wave {
		if s > 0.9 || s < -0.9 {
			t.Fatalf("sample %d = %v exceeds 0.9", i, s)
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	tests := []struct {
		name       string
		magnitudes []float64
		start, end int
		want       int
	}{
		{"Hill", testMagnitudes, 0, testSize - 1, testSize / 4},
		{"Clamped Range", testMagnitudes, -5, testSize * 2, testSize / 4},
		{"Sub Range", testMagnitudes, testSize / 2, testSize - 1, testSize / 2},
		{"Empty", nil, 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(tt.magnitudes, tt.start, tt.end); got != tt.want {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGenerateConstant(t *testing.T) {
	buf := GenerateConstant(4, 0.25)
	for _, v := range buf {
		if v != 0.25 {
			t.Fatalf("GenerateConstant produced %v", buf)
		}
	}
}
