// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
)

// Thresholds is the classifier's rule ladder. The values are empirically
// tuned; callers may adjust them per voice.
type Thresholds struct {
	SilenceEnergy float64 `yaml:"silence_energy"` // total band energy below this is silence

	SibilantShare         float64 `yaml:"sibilant_share"`           // (high+veryHigh)/total
	SibilantHigh          float64 `yaml:"sibilant_high"`            // minimum high band
	SibilantVeryHighRatio float64 `yaml:"sibilant_very_high_ratio"` // veryHigh > high*ratio picks SS over CH

	FricativeShare  float64 `yaml:"fricative_share"` // (mid+high)/total
	FricativeHigh   float64 `yaml:"fricative_high"`
	FricativeLowMax float64 `yaml:"fricative_low_max"`

	NasalSub      float64 `yaml:"nasal_sub"`
	NasalLow      float64 `yaml:"nasal_low"`
	NasalHighMax  float64 `yaml:"nasal_high_max"`
	NasalMidRatio float64 `yaml:"nasal_mid_ratio"` // mid < low*ratio

	PlosiveIntensity float64 `yaml:"plosive_intensity"`
	PlosiveFlatness  float64 `yaml:"plosive_flatness"` // min band / max band

	OpenLow       float64 `yaml:"open_low"`
	OpenMid       float64 `yaml:"open_mid"`
	OpenIntensity float64 `yaml:"open_intensity"`

	RoundedHighMax   float64 `yaml:"rounded_high_max"`
	RoundedIntensity float64 `yaml:"rounded_intensity"`

	FrontMid       float64 `yaml:"front_mid"`
	FrontIntensity float64 `yaml:"front_intensity"`

	CloseMid       float64 `yaml:"close_mid"`
	CloseHighRatio float64 `yaml:"close_high_ratio"` // high > low*ratio
	CloseIntensity float64 `yaml:"close_intensity"`
	RoundCloseSub  float64 `yaml:"round_close_sub"`
	RoundCloseHigh float64 `yaml:"round_close_high_max"`

	FallbackOpen  float64 `yaml:"fallback_open"`
	FallbackFront float64 `yaml:"fallback_front"`
	FallbackClose float64 `yaml:"fallback_close"`
}

// DefaultThresholds returns the stock ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SilenceEnergy: 0.01,

		SibilantShare:         0.55,
		SibilantHigh:          0.15,
		SibilantVeryHighRatio: 0.8,

		FricativeShare:  0.5,
		FricativeHigh:   0.1,
		FricativeLowMax: 0.15,

		NasalSub:      0.2,
		NasalLow:      0.15,
		NasalHighMax:  0.08,
		NasalMidRatio: 0.7,

		PlosiveIntensity: 0.6,
		PlosiveFlatness:  0.4,

		OpenLow:       0.2,
		OpenMid:       0.15,
		OpenIntensity: 0.5,

		RoundedHighMax:   0.1,
		RoundedIntensity: 0.3,

		FrontMid:       0.15,
		FrontIntensity: 0.3,

		CloseMid:       0.1,
		CloseHighRatio: 0.5,
		CloseIntensity: 0.2,
		RoundCloseSub:  0.15,
		RoundCloseHigh: 0.05,

		FallbackOpen:  0.5,
		FallbackFront: 0.3,
		FallbackClose: 0.15,
	}
}

const shareEpsilon = 1e-3

// Classify runs the rule cascade on one set of smoothed band energies.
// First match wins. It is pure; hysteresis lives in Analyzer.
func Classify(b BandEnergies, intensity float64, t Thresholds) (Viseme, float64) {
	total := b.Total()
	if total < t.SilenceEnergy {
		return VisemeSil, 0.9
	}

	sibilant := (b.High + b.VeryHigh) / (total + shareEpsilon)
	if sibilant > t.SibilantShare && b.High > t.SibilantHigh {
		if b.VeryHigh > b.High*t.SibilantVeryHighRatio {
			return VisemeSS, sibilant
		}
		return VisemeCH, sibilant * 0.85
	}

	fricative := (b.Mid + b.High) / (total + shareEpsilon)
	if fricative > t.FricativeShare && b.High > t.FricativeHigh && b.Low < t.FricativeLowMax {
		return VisemeFF, fricative * 0.8
	}

	if b.Sub > t.NasalSub && b.Low > t.NasalLow && b.High < t.NasalHighMax && b.Mid < b.Low*t.NasalMidRatio {
		return VisemeNN, 0.65
	}

	if peak := b.Max(); intensity > t.PlosiveIntensity && peak > 0 && b.Min()/peak > t.PlosiveFlatness {
		if b.Low > b.Mid {
			return VisemePP, 0.6
		}
		return VisemeDD, 0.6
	}

	if b.Low > t.OpenLow && b.Mid > t.OpenMid && intensity > t.OpenIntensity {
		return VisemeAA, 0.7
	}

	if b.Sub > b.Mid && b.Low > b.Mid && b.High < t.RoundedHighMax && intensity > t.RoundedIntensity {
		return VisemeO, 0.6
	}

	if b.Mid > b.Low && b.Mid > t.FrontMid && intensity > t.FrontIntensity {
		return VisemeE, 0.65
	}

	if b.Mid > t.CloseMid && b.High > b.Low*t.CloseHighRatio && intensity > t.CloseIntensity {
		return VisemeI, 0.55
	}

	if b.Sub > t.RoundCloseSub && b.High < t.RoundCloseHigh {
		return VisemeU, 0.5
	}

	switch {
	case intensity > t.FallbackOpen:
		return VisemeAA, 0.4
	case intensity > t.FallbackFront:
		return VisemeE, 0.35
	case intensity > t.FallbackClose:
		return VisemeI, 0.3
	default:
		return VisemeSil, 0.5
	}
}

// Options configures an Analyzer.
type Options struct {
	SilenceThreshold   float64    // smoothed RMS below this is silence
	SmoothingFactor    float64    // EMA factor for RMS and bands
	HoldFrames         int        // ticks a new class must persist
	IntensitySmoothing float64    // EMA factor for reported intensity
	Thresholds         Thresholds // rule ladder
}

// DefaultOptions returns the stock analyzer configuration.
func DefaultOptions() Options {
	return Options{
		SilenceThreshold:   0.015,
		SmoothingFactor:    0.35,
		HoldFrames:         2,
		IntensitySmoothing: 0.2,
		Thresholds:         DefaultThresholds(),
	}
}

var errFactorRange = errors.New("must be in [0, 1)")

// Validate checks ranges.
func (o Options) Validate() error {
	if o.SilenceThreshold < 0 {
		return fmt.Errorf("silence threshold must be non-negative, got %f", o.SilenceThreshold)
	}
	if o.SmoothingFactor < 0 || o.SmoothingFactor >= 1 {
		return fmt.Errorf("smoothing factor %f: %w", o.SmoothingFactor, errFactorRange)
	}
	if o.IntensitySmoothing < 0 || o.IntensitySmoothing >= 1 {
		return fmt.Errorf("intensity smoothing %f: %w", o.IntensitySmoothing, errFactorRange)
	}
	if o.HoldFrames < 1 {
		return fmt.Errorf("hold frames must be at least 1, got %d", o.HoldFrames)
	}
	return nil
}

type classifierState struct {
	amplitude    float64
	bands        BandEnergies
	intensity    float64
	current      Viseme
	previous     Viseme
	confidence   float64
	pending      Viseme
	pendingCount int
	progress     float64
	count        uint64
}

func initialState() classifierState {
	return classifierState{
		current:    VisemeSil,
		previous:   VisemeSil,
		pending:    VisemeSil,
		confidence: 0.9,
		progress:   1,
	}
}

// Analyzer turns spectral snapshots into stabilized viseme frames.
// It is not safe for concurrent use; one goroutine drives Analyze.
type Analyzer struct {
	src    SpectrumSource
	opts   Options
	layout bandLayout

	timeDomain []float32
	spectrum   []float64

	state classifierState
}

// NewAnalyzer binds an analyzer to a spectrum source.
func NewAnalyzer(src SpectrumSource, opts Options) (*Analyzer, error) {
	if src == nil {
		return nil, errors.New("analyzer requires a spectrum source")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer options: %w", err)
	}
	return &Analyzer{
		src:        src,
		opts:       opts,
		layout:     newBandLayout(src.Bins(), src.GetSampleRate()),
		timeDomain: make([]float32, src.GetFFTSize()),
		spectrum:   make([]float64, src.Bins()),
		state:      initialState(),
	}, nil
}

// Options returns the active configuration.
func (a *Analyzer) Options() Options { return a.opts }

// Analyze pulls a snapshot from the source and classifies it.
func (a *Analyzer) Analyze() (Frame, error) {
	if err := a.src.Snapshot(a.timeDomain, a.spectrum); err != nil {
		return Frame{}, fmt.Errorf("spectrum snapshot failed: %w", err)
	}
	return a.Step(a.timeDomain, a.spectrum), nil
}

// Step classifies an externally supplied window and spectrum. spectrum must
// have the source's bin count.
func (a *Analyzer) Step(timeDomain []float32, spectrum []float64) Frame {
	s := &a.state
	s.count++

	s.amplitude = SmoothValue(s.amplitude, RMS(timeDomain), a.opts.SmoothingFactor)
	s.bands = s.bands.smoothToward(a.layout.measure(spectrum), a.opts.SmoothingFactor)

	var (
		candidate  Viseme
		confidence float64
		target     float64
	)
	if s.amplitude < a.opts.SilenceThreshold || s.bands.Total() < a.opts.Thresholds.SilenceEnergy {
		candidate, confidence = VisemeSil, 0.9
	} else {
		target = Clamp(s.amplitude*3, 0, 1)
		candidate, confidence = Classify(s.bands, target, a.opts.Thresholds)
	}

	switch {
	case candidate == s.current:
		s.pendingCount = 0
		s.confidence = confidence
		s.advance()
	default:
		if candidate == s.pending && s.pendingCount > 0 {
			s.pendingCount++
		} else {
			s.pending = candidate
			s.pendingCount = 1
		}
		if s.pendingCount >= a.opts.HoldFrames {
			s.previous = s.current
			s.current = candidate
			s.confidence = confidence
			s.progress = 0
			s.pendingCount = 0
		} else {
			s.advance()
		}
	}

	s.intensity = SmoothValue(s.intensity, target, a.opts.IntensitySmoothing)
	intensity := s.intensity
	if s.current == VisemeSil {
		intensity = 0
	}

	return Frame{
		Viseme:     s.current,
		Coarse:     s.current.Coarse(),
		Intensity:  intensity,
		Confidence: s.confidence,
		Amplitude:  s.amplitude,
		Bands:      s.bands,
		Shape:      LerpShape(s.previous.Shape(), s.current.Shape(), s.progress),
		Transition: Transition{From: s.previous, To: s.current, Progress: s.progress},
		Count:      s.count,
	}
}

func (s *classifierState) advance() {
	w := TransitionWeight(s.previous, s.current)
	s.progress = min(1, s.progress+(1-w)*0.3)
}

// Current returns the reported class without running a tick.
func (a *Analyzer) Current() Viseme { return a.state.current }

// Reset returns the analyzer to its initial silent state.
func (a *Analyzer) Reset() {
	a.state = initialState()
}
