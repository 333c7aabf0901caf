// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	applog "lipsync/internal/log"
	"lipsync/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

const (
	MinFFTSize = 32
	MaxFFTSize = 32768
)

// ErrSizeMismatch is returned when a caller-provided buffer has the wrong length.
var ErrSizeMismatch = errors.New("buffer size mismatch")

// FFTOptions configures the spectral analyser.
type FFTOptions struct {
	Size        int        // Power of two in [MinFFTSize, MaxFFTSize].
	SampleRate  float64    // Hz.
	Window      WindowFunc // Applied before every transform.
	Smoothing   float64    // Time smoothing of magnitudes, 0 disables.
	MinDecibels float64    // Maps to 0 in the normalized spectrum.
	MaxDecibels float64    // Maps to 1 in the normalized spectrum.
}

// DefaultFFTOptions mirrors a browser analyser node at 24 kHz.
func DefaultFFTOptions() FFTOptions {
	return FFTOptions{
		Size:        256,
		SampleRate:  24000,
		Window:      Blackman,
		Smoothing:   0.5,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	history   []float32    // Rolling window of the most recent Size samples.
	pos       int          // Next write index into history.
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results (Size/2 + 1).
	smoothed  []float64    // Time-smoothed linear magnitudes (Size/2).
	spectrum  []float64    // Last normalized spectrum handed out (Size/2).
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.Mutex   // Guards everything above.
}

// FFTProcessor keeps a rolling window of the signal and turns it into a
// normalized magnitude spectrum on demand. Process is fed from the audio
// side; Snapshot is called from the analysis loop.
type FFTProcessor struct {
	fftCalculator *fourier.FFT
	opts          FFTOptions
	workspace     fftWorkspace
}

// Compile-time checks for interface implementations.
var _ AudioProcessor = (*FFTProcessor)(nil)
var _ FFTResultProvider = (*FFTProcessor)(nil)
var _ ClosableProcessor = (*FFTProcessor)(nil)
var _ SpectrumSource = (*FFTProcessor)(nil)

// NewFFTProcessor validates opts and pre-allocates every buffer the
// processor will ever use.
func NewFFTProcessor(opts FFTOptions) (*FFTProcessor, error) {
	if !bitint.IsPowerOfTwo(opts.Size) || opts.Size < MinFFTSize || opts.Size > MaxFFTSize {
		suggest := min(max(bitint.NearestPowerOfTwo(opts.Size), MinFFTSize), MaxFFTSize)
		return nil, fmt.Errorf("fft size must be a power of 2 in [%d, %d], got %d (try %d)", MinFFTSize, MaxFFTSize, opts.Size, suggest)
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", opts.SampleRate)
	}
	if opts.Smoothing < 0 || opts.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in [0, 1], got %f", opts.Smoothing)
	}
	if opts.MinDecibels >= opts.MaxDecibels {
		return nil, fmt.Errorf("min decibels (%f) must be below max decibels (%f)", opts.MinDecibels, opts.MaxDecibels)
	}

	windowCoeffs := make([]float64, opts.Size)
	applyWindow(windowCoeffs, opts.Window)
	bins := opts.Size / 2

	applog.Debugf("Analysis: Initializing FFTProcessor (Size: %d, SampleRate: %.1f Hz, Window: %v)", opts.Size, opts.SampleRate, opts.Window)

	return &FFTProcessor{
		fftCalculator: fourier.NewFFT(opts.Size),
		opts:          opts,
		workspace: fftWorkspace{
			history:   make([]float32, opts.Size),
			input:     make([]float64, opts.Size),
			fftOutput: make([]complex128, bins+1),
			smoothed:  make([]float64, bins),
			spectrum:  make([]float64, bins),
			window:    windowCoeffs,
		},
	}, nil
}

// Process appends samples to the rolling window. Blocks briefly if a
// snapshot is in progress.
func (p *FFTProcessor) Process(samples []float32) {
	p.workspace.mu.Lock()
	p.push(samples)
	p.workspace.mu.Unlock()
}

// TryProcess is the real-time variant of Process: it gives up instead of
// waiting when a snapshot holds the lock. Returns whether samples were taken.
func (p *FFTProcessor) TryProcess(samples []float32) bool {
	if !p.workspace.mu.TryLock() {
		return false
	}
	p.push(samples)
	p.workspace.mu.Unlock()
	return true
}

// push assumes the lock is held. Hot path: no allocations.
func (p *FFTProcessor) push(samples []float32) {
	ws := &p.workspace
	n := len(ws.history)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for len(samples) > 0 {
		c := copy(ws.history[ws.pos:], samples)
		ws.pos = (ws.pos + c) % n
		samples = samples[c:]
	}
}

// Snapshot writes the current time-domain window (oldest first) into
// timeDomain and the normalized magnitude spectrum into spectrum.
// timeDomain must hold Size samples and spectrum Size/2 bins.
func (p *FFTProcessor) Snapshot(timeDomain []float32, spectrum []float64) error {
	ws := &p.workspace
	if len(timeDomain) != len(ws.history) {
		return fmt.Errorf("time domain length %d, want %d: %w", len(timeDomain), len(ws.history), ErrSizeMismatch)
	}
	if len(spectrum) != len(ws.spectrum) {
		return fmt.Errorf("spectrum length %d, want %d: %w", len(spectrum), len(ws.spectrum), ErrSizeMismatch)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	// --- 1. Unroll the rolling window & apply window ---
	n := copy(timeDomain, ws.history[ws.pos:])
	copy(timeDomain[n:], ws.history[:ws.pos])
	for i, s := range timeDomain {
		ws.input[i] = float64(s) * ws.window[i]
	}

	// --- 2. Perform FFT ---
	p.fftCalculator.Coefficients(ws.fftOutput, ws.input)

	// --- 3. Magnitudes, time smoothing, dB normalization ---
	scale := 1.0 / float64(p.opts.Size)
	dbRange := p.opts.MaxDecibels - p.opts.MinDecibels
	for k := range ws.smoothed {
		mag := cmplx.Abs(ws.fftOutput[k]) * scale
		ws.smoothed[k] = p.opts.Smoothing*ws.smoothed[k] + (1-p.opts.Smoothing)*mag

		v := 0.0
		if ws.smoothed[k] > 0 {
			db := 20 * math.Log10(ws.smoothed[k])
			v = Clamp((db-p.opts.MinDecibels)/dbRange, 0, 1)
		}
		ws.spectrum[k] = v
	}
	copy(spectrum, ws.spectrum)
	return nil
}

// GetMagnitudesInto copies the spectrum computed by the last Snapshot.
func (p *FFTProcessor) GetMagnitudesInto(dest []float64) error {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	if len(dest) != len(p.workspace.spectrum) {
		return fmt.Errorf("destination slice length %d does not match required length %d: %w", len(dest), len(p.workspace.spectrum), ErrSizeMismatch)
	}
	copy(dest, p.workspace.spectrum)
	return nil
}

// GetFrequencyForBin returns the center frequency (Hz) for a given FFT bin index.
func (p *FFTProcessor) GetFrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= p.Bins() {
		return 0.0
	}
	return float64(binIndex) * (p.opts.SampleRate / float64(p.opts.Size))
}

// GetFFTSize returns the configured FFT size (number of points).
func (p *FFTProcessor) GetFFTSize() int {
	return p.opts.Size
}

// GetSampleRate returns the configured sample rate (Hz).
func (p *FFTProcessor) GetSampleRate() float64 {
	return p.opts.SampleRate
}

// Bins returns the number of spectrum bins (Size/2).
func (p *FFTProcessor) Bins() int {
	return p.opts.Size / 2
}

// Reset forgets the signal history and magnitude smoothing.
func (p *FFTProcessor) Reset() {
	ws := &p.workspace
	ws.mu.Lock()
	clear(ws.history)
	clear(ws.smoothed)
	clear(ws.spectrum)
	ws.pos = 0
	ws.mu.Unlock()
}

// Close releases nothing; the processor only owns memory.
func (p *FFTProcessor) Close() error {
	applog.Debugf("Analysis: Closing FFTProcessor")
	return nil
}

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "BartlettHann"
	case Blackman:
		return "Blackman"
	case BlackmanNuttall:
		return "BlackmanNuttall"
	case Hann:
		return "Hann"
	case Hamming:
		return "Hamming"
	case Lanczos:
		return "Lanczos"
	case Nuttall:
		return "Nuttall"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Blackman) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman", "":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Blackman, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall back to Blackman.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// Window funcs scale in place, so start from a rectangular window.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Blackman", windowType)
		window.Blackman(coeffs)
	}
}
