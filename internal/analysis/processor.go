// SPDX-License-Identifier: MIT
package analysis

// AudioProcessor is anything that consumes blocks of mono float samples.
type AudioProcessor interface {
	// Process analyzes the given audio input buffer. Implementations should be efficient as
	// this is often called from within a hotpath such as the real-time audio callback.
	Process(samples []float32)
}

// ClosableProcessor combines AudioProcessor with a Close method for resource cleanup.
type ClosableProcessor interface {
	AudioProcessor
	Close() error
}

// FFTResultProvider exposes the latest spectrum without driving a new transform.
// Used by publishers and monitors that only observe.
type FFTResultProvider interface {
	GetMagnitudesInto(dest []float64) error
	GetFrequencyForBin(binIndex int) float64
	GetFFTSize() int
	GetSampleRate() float64
}

// SpectrumSource produces a fresh time-domain window and normalized spectrum.
// The classifier depends on this rather than on FFTProcessor so tests can
// inject synthetic spectra.
type SpectrumSource interface {
	Snapshot(timeDomain []float32, spectrum []float64) error
	GetFFTSize() int
	GetSampleRate() float64
	Bins() int
}
