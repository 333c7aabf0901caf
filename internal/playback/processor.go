// SPDX-License-Identifier: MIT
/*
Package playback implements gapless streamed playback for the real-time
output callback.

Processor owns a ring buffer and a fade envelope. It is driven entirely from
the audio thread: Enqueue and the control methods are applied by Node before
each block, then Process renders the block.

Performance Critical:
- No allocations after construction
- No locks; observers read state through atomics
- Telemetry leaves through a non-blocking Notifier
*/
package playback

import (
	"fmt"
	"math"
	"sync/atomic"

	"lipsync/internal/ringbuffer"
)

// State of the playback state machine.
type State int32

const (
	StateIdle State = iota
	StateBuffering
	StateFadingIn
	StatePlaying
	StateFadingOut
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateFadingIn:
		return "fadingIn"
	case StatePlaying:
		return "playing"
	case StateFadingOut:
		return "fadingOut"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Audible reports whether the state produces output.
func (s State) Audible() bool {
	return s == StateFadingIn || s == StatePlaying || s == StateFadingOut
}

// Config for a Processor.
type Config struct {
	SampleRate       float64 // Hz
	BufferSeconds    float64 // ring capacity
	StartThresholdMs float64 // buffered audio needed before auto-start
	FadeFrames       int     // samples per fade
	ReportInterval   int     // samples between position reports
	Volume           float64 // initial volume, [0, 1]
}

// DefaultConfig returns the stock configuration at the given rate.
func DefaultConfig(sampleRate float64) Config {
	return Config{
		SampleRate:       sampleRate,
		BufferSeconds:    5,
		StartThresholdMs: 50,
		FadeFrames:       64,
		ReportInterval:   128,
		Volume:           1,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %f", c.SampleRate)
	case c.BufferSeconds <= 0:
		return fmt.Errorf("buffer seconds must be positive, got %f", c.BufferSeconds)
	case c.StartThresholdMs < 0:
		return fmt.Errorf("start threshold must be non-negative, got %f", c.StartThresholdMs)
	case c.FadeFrames < 1:
		return fmt.Errorf("fade frames must be at least 1, got %d", c.FadeFrames)
	case c.ReportInterval < 1:
		return fmt.Errorf("report interval must be at least 1, got %d", c.ReportInterval)
	}
	return nil
}

// Processor is the playback state machine. Not safe for concurrent use;
// see Node for the cross-thread entry point.
type Processor struct {
	cfg    Config
	ring   *ringbuffer.RingBuffer
	notify Notifier

	state     State
	volume    float64
	autoStart bool

	// Fade envelope. gain is the last gain applied; fadeFrom is the gain the
	// current fade started at so interrupted fades stay continuous.
	gain     float64
	fadeFrom float64
	fadePos  int

	played      uint64
	received    uint64
	sinceReport int
	underrun    bool

	observed atomic.Int32
}

// NewProcessor allocates the ring buffer and all state.
func NewProcessor(cfg Config, notify Notifier) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid playback config: %w", err)
	}
	ring, err := ringbuffer.New(int(math.Ceil(cfg.SampleRate * cfg.BufferSeconds)))
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = discardNotifier{}
	}
	p := &Processor{
		cfg:       cfg,
		ring:      ring,
		notify:    notify,
		volume:    clamp01(cfg.Volume),
		autoStart: true,
	}
	p.setState(StateIdle)
	return p, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (p *Processor) setState(s State) {
	p.state = s
	p.observed.Store(int32(s))
}

// State returns the current state. Safe to call from any goroutine.
func (p *Processor) State() State {
	return State(p.observed.Load())
}

// Enqueue buffers samples, dropping the oldest on overflow, and auto-starts
// playback once enough audio is queued.
func (p *Processor) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if dropped := p.ring.WriteOverflow(samples); dropped > 0 {
		p.notify.Notify(Telemetry{Kind: KindOverflow, Dropped: dropped})
	}
	p.received += uint64(len(samples))

	if p.state == StateIdle {
		p.setState(StateBuffering)
	}
	if p.autoStart && p.state == StateBuffering && p.bufferedMs() >= p.cfg.StartThresholdMs {
		p.autoStart = false
		p.beginFadeIn()
		p.notify.Notify(Telemetry{Kind: KindPlaybackStarted})
	}
}

// Start begins playback immediately, regardless of the buffered amount.
func (p *Processor) Start() {
	p.autoStart = false
	switch p.state {
	case StateFadingIn, StatePlaying:
		return
	case StateFadingOut:
		p.beginFadeIn()
	default:
		p.beginFadeIn()
		p.notify.Notify(Telemetry{Kind: KindPlaybackStarted})
	}
}

// Stop fades out. PlaybackEnded is reported when the fade completes.
func (p *Processor) Stop() {
	p.autoStart = false
	switch p.state {
	case StateFadingIn, StatePlaying:
		p.fadeFrom = p.gain
		p.fadePos = 0
		p.setState(StateFadingOut)
	case StateIdle, StateBuffering:
		p.setState(StateStopped)
	}
}

// Clear drops buffered audio without changing state.
func (p *Processor) Clear() {
	p.ring.Clear()
}

// Reset drops buffered audio, zeroes counters and waits for the
// auto-start threshold again.
func (p *Processor) Reset() {
	p.ring.Clear()
	p.played = 0
	p.received = 0
	p.sinceReport = 0
	p.underrun = false
	p.gain = 0
	p.autoStart = true
	p.setState(StateBuffering)
}

// SetVolume clamps v to [0, 1].
func (p *Processor) SetVolume(v float64) {
	p.volume = clamp01(v)
}

// Volume returns the current volume.
func (p *Processor) Volume() float64 { return p.volume }

func (p *Processor) beginFadeIn() {
	p.fadeFrom = p.gain
	p.fadePos = 0
	p.setState(StateFadingIn)
}

// nextGain advances the envelope by one sample.
func (p *Processor) nextGain() float64 {
	f := float64(p.cfg.FadeFrames)
	switch p.state {
	case StateFadingIn:
		t := math.Min(float64(p.fadePos)/f, 1)
		p.fadePos++
		if t >= 1 {
			p.setState(StatePlaying)
		}
		p.gain = p.fadeFrom + (1-p.fadeFrom)*t*t
	case StateFadingOut:
		t := math.Min(float64(p.fadePos)/f, 1)
		p.fadePos++
		p.gain = p.fadeFrom * (1 - t) * (1 - t)
		if t >= 1 {
			p.gain = 0
			p.setState(StateStopped)
			p.notify.Notify(Telemetry{Kind: KindPlaybackEnded})
		}
	case StatePlaying:
		p.gain = 1
	default:
		p.gain = 0
	}
	return p.gain
}

// Process renders one block of mono output.
// Performance Critical (Hot Path):
// - No allocations
// - One underrun notification per contiguous dry run
func (p *Processor) Process(out []float32) {
	for i := range out {
		if !p.state.Audible() {
			out[i] = 0
			continue
		}

		// The fade-in only advances on played samples.
		if p.state == StateFadingIn && p.ring.Empty() {
			out[i] = 0
			p.reportUnderrun()
			continue
		}

		gain := p.nextGain()
		if !p.state.Audible() {
			// fade-out just completed; leave the rest buffered
			out[i] = 0
			continue
		}
		s, ok := p.ring.ReadOne()
		if !ok {
			out[i] = 0
			p.reportUnderrun()
			continue
		}
		p.underrun = false
		p.played++
		out[i] = s * float32(p.volume*gain)
	}

	p.sinceReport += len(out)
	if p.sinceReport >= p.cfg.ReportInterval {
		p.sinceReport = 0
		p.notify.Notify(Telemetry{
			Kind:        KindPosition,
			TimeMs:      p.TimeMs(),
			BufferLevel: p.ring.Level(),
			BufferMs:    p.bufferedMs(),
			IsPlaying:   p.state.Audible(),
		})
	}
}

// reportUnderrun emits one underrun per dry run.
func (p *Processor) reportUnderrun() {
	if p.underrun {
		return
	}
	p.underrun = true
	p.notify.Notify(Telemetry{Kind: KindUnderrun, TimeMs: p.TimeMs()})
}

func (p *Processor) bufferedMs() float64 {
	return float64(p.ring.Len()) / p.cfg.SampleRate * 1000
}

// TimeMs is the playback position derived from samples played.
func (p *Processor) TimeMs() float64 {
	return float64(p.played) / p.cfg.SampleRate * 1000
}

// Buffered returns the number of queued samples.
func (p *Processor) Buffered() int { return p.ring.Len() }

// BufferLevel returns the ring fill ratio.
func (p *Processor) BufferLevel() float64 { return p.ring.Level() }

// Played returns the number of samples rendered from the buffer.
func (p *Processor) Played() uint64 { return p.played }

// Received returns the number of samples enqueued.
func (p *Processor) Received() uint64 { return p.received }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() Config { return p.cfg }
