// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"testing"

	"lipsync/pkg/utils"
)

func newTestFFT(t *testing.T) *FFTProcessor {
	t.Helper()
	p, err := NewFFTProcessor(DefaultFFTOptions())
	if err != nil {
		t.Fatalf("NewFFTProcessor failed: %v", err)
	}
	return p
}

func TestNewFFTProcessorValidation(t *testing.T) {
	mutate := func(f func(*FFTOptions)) FFTOptions {
		o := DefaultFFTOptions()
		f(&o)
		return o
	}

	tests := []struct {
		name string
		opts FFTOptions
	}{
		{"Not Power Of Two", mutate(func(o *FFTOptions) { o.Size = 300 })},
		{"Too Small", mutate(func(o *FFTOptions) { o.Size = 16 })},
		{"Too Large", mutate(func(o *FFTOptions) { o.Size = 65536 })},
		{"Zero Sample Rate", mutate(func(o *FFTOptions) { o.SampleRate = 0 })},
		{"Smoothing Range", mutate(func(o *FFTOptions) { o.Smoothing = 1.5 })},
		{"Decibel Order", mutate(func(o *FFTOptions) { o.MinDecibels = -20 })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFFTProcessor(tt.opts); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSnapshotPeakBin(t *testing.T) {
	p := newTestFFT(t)

	// 1500 Hz sits exactly on bin 16 at 24 kHz / 256.
	p.Process(utils.GenerateSineWave(256, 24000, 1500, 0.5))

	td := make([]float32, p.GetFFTSize())
	spectrum := make([]float64, p.Bins())
	if err := p.Snapshot(td, spectrum); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if peak := utils.FindPeakBin(spectrum, 0, len(spectrum)-1); peak != 16 {
		t.Errorf("peak bin = %d, want 16", peak)
	}
	if spectrum[16] != 1 {
		t.Errorf("peak level = %v, want 1 (above max decibels)", spectrum[16])
	}
	if f := p.GetFrequencyForBin(16); f != 1500 {
		t.Errorf("GetFrequencyForBin(16) = %v, want 1500", f)
	}

	latest := make([]float64, p.Bins())
	if err := p.GetMagnitudesInto(latest); err != nil {
		t.Fatalf("GetMagnitudesInto failed: %v", err)
	}
	if latest[16] != spectrum[16] {
		t.Error("GetMagnitudesInto does not match last snapshot")
	}
}

func TestSnapshotSilenceIsZero(t *testing.T) {
	p := newTestFFT(t)
	p.Process(make([]float32, 256))

	td := make([]float32, 256)
	spectrum := make([]float64, 128)
	if err := p.Snapshot(td, spectrum); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for i, v := range spectrum {
		if v != 0 {
			t.Fatalf("bin %d = %v on silent input", i, v)
		}
	}
}

func TestSnapshotTimeDomainOrder(t *testing.T) {
	p := newTestFFT(t)

	// Push 300 ramp samples in uneven blocks; the window keeps the last 256.
	ramp := make([]float32, 300)
	for i := range ramp {
		ramp[i] = float32(i)
	}
	p.Process(ramp[:100])
	p.Process(ramp[100:250])
	p.Process(ramp[250:])

	td := make([]float32, 256)
	if err := p.Snapshot(td, make([]float64, 128)); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for i, v := range td {
		if v != float32(44+i) {
			t.Fatalf("td[%d] = %v, want %v", i, v, 44+i)
		}
	}
}

func TestSnapshotSizeMismatch(t *testing.T) {
	p := newTestFFT(t)

	if err := p.Snapshot(make([]float32, 10), make([]float64, 128)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short time domain: err = %v", err)
	}
	if err := p.Snapshot(make([]float32, 256), make([]float64, 10)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short spectrum: err = %v", err)
	}
	if err := p.GetMagnitudesInto(make([]float64, 3)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("GetMagnitudesInto: err = %v", err)
	}
}

func TestSmoothingDecay(t *testing.T) {
	p := newTestFFT(t)
	td := make([]float32, 256)
	spectrum := make([]float64, 128)

	p.Process(utils.GenerateSineWave(256, 24000, 1500, 0.5))
	p.Snapshot(td, spectrum)

	// With smoothing 0.5 the peak decays gradually after the tone stops.
	p.Process(make([]float32, 256))
	p.Snapshot(td, spectrum)
	if spectrum[16] == 0 {
		t.Error("peak vanished immediately despite time smoothing")
	}

	p.Reset()
	p.Snapshot(td, spectrum)
	if spectrum[16] != 0 {
		t.Errorf("peak after Reset = %v, want 0", spectrum[16])
	}
}

func TestTryProcessSkipsWhenLocked(t *testing.T) {
	p := newTestFFT(t)
	block := make([]float32, 128)

	if !p.TryProcess(block) {
		t.Fatal("TryProcess failed on an idle processor")
	}

	p.workspace.mu.Lock()
	took := p.TryProcess(block)
	p.workspace.mu.Unlock()
	if took {
		t.Error("TryProcess took the block while the workspace was locked")
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"blackman", Blackman, false},
		{"", Blackman, false},
		{"Hanning", Hann, false},
		{"NUTTALL", Nuttall, false},
		{"square", Blackman, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestFFTHotPathAllocations(t *testing.T) {
	p := newTestFFT(t)
	block := utils.GenerateSineWave(128, 24000, 1000, 0.5)
	td := make([]float32, 256)
	spectrum := make([]float64, 128)

	allocs := testing.AllocsPerRun(100, func() {
		p.TryProcess(block)
		_ = p.Snapshot(td, spectrum)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations, got %.1f", allocs)
	}
}

func BenchmarkSnapshot(b *testing.B) {
	p, _ := NewFFTProcessor(DefaultFFTOptions())
	p.Process(utils.GenerateComplexWave(256, 24000))
	td := make([]float32, 256)
	spectrum := make([]float64, 128)

	for b.Loop() {
		_ = p.Snapshot(td, spectrum)
	}
}
