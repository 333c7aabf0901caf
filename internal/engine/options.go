// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"
	"time"

	"lipsync/internal/analysis"
	"lipsync/internal/audio"
	"lipsync/internal/metrics"
	"lipsync/internal/playback"
)

// Cadence selects how analysis ticks are scheduled.
type Cadence string

const (
	CadenceInterval Cadence = "interval" // fixed period timer
	CadenceRefresh  Cadence = "refresh"  // display refresh clock
	CadenceManual   Cadence = "manual"   // caller drives ticks
)

// ParseCadence accepts the names above.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(s); c {
	case CadenceInterval, CadenceRefresh, CadenceManual:
		return c, nil
	default:
		return "", fmt.Errorf("unknown analysis cadence %q", s)
	}
}

// Options is the engine configuration. Start from DefaultOptions.
type Options struct {
	SampleRate        float64 // working rate for playback and analysis
	FFTSize           int
	AnalyserSmoothing float64
	Analysis          analysis.Options

	Volume               float64
	AutoStartThresholdMs float64
	BufferSeconds        float64
	FadeFrames           int
	ReportInterval       int // samples between position reports
	PlaybackEnabled      bool

	Cadence     Cadence
	Interval    time.Duration // CadenceInterval period
	RefreshRate float64       // CadenceRefresh frames per second
}

// DefaultOptions targets 24 kHz mono TTS audio.
func DefaultOptions() Options {
	return Options{
		SampleRate:           24000,
		FFTSize:              256,
		AnalyserSmoothing:    0.5,
		Analysis:             analysis.DefaultOptions(),
		Volume:               1,
		AutoStartThresholdMs: 50,
		BufferSeconds:        5,
		FadeFrames:           64,
		ReportInterval:       audio.DefaultBlockSize,
		PlaybackEnabled:      true,
		Cadence:              CadenceInterval,
		Interval:             16 * time.Millisecond,
		RefreshRate:          60,
	}
}

// Validate checks every field that would otherwise fail later in Init.
func (o Options) Validate() error {
	if _, err := analysis.NewFFTProcessor(o.fftOptions()); err != nil {
		return err
	}
	if err := o.Analysis.Validate(); err != nil {
		return err
	}
	if err := o.playbackConfig().Validate(); err != nil {
		return err
	}
	switch o.Cadence {
	case CadenceInterval:
		if o.Interval <= 0 {
			return fmt.Errorf("analysis interval must be positive, got %s", o.Interval)
		}
	case CadenceRefresh:
		if o.RefreshRate <= 0 {
			return fmt.Errorf("refresh rate must be positive, got %f", o.RefreshRate)
		}
	case CadenceManual:
	default:
		return fmt.Errorf("unknown analysis cadence %q", o.Cadence)
	}
	return nil
}

func (o Options) fftOptions() analysis.FFTOptions {
	fo := analysis.DefaultFFTOptions()
	fo.Size = o.FFTSize
	fo.SampleRate = o.SampleRate
	fo.Smoothing = o.AnalyserSmoothing
	return fo
}

func (o Options) playbackConfig() playback.Config {
	return playback.Config{
		SampleRate:       o.SampleRate,
		BufferSeconds:    o.BufferSeconds,
		StartThresholdMs: o.AutoStartThresholdMs,
		FadeFrames:       o.FadeFrames,
		ReportInterval:   o.ReportInterval,
		Volume:           o.Volume,
	}
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithOutput sets the device the engine plays through. Without it a playing
// engine renders into a NullOutput clock.
func WithOutput(out audio.Output) Option {
	return func(e *Engine) { e.output = out }
}

// WithScheduler overrides the scheduler derived from Options.Cadence.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithMetrics records every emitted event into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFrameSignal drives a refresh cadence from an external frame clock
// instead of the built-in ticker.
func WithFrameSignal(frames <-chan time.Time) Option {
	return func(e *Engine) { e.frames = frames }
}
