// SPDX-License-Identifier: MIT
/*
Package engine is the lip-sync facade. An Engine binds one audio source,
plays fed audio through a playback node, taps the signal into a spectral
analyser and publishes viseme frames alongside playback telemetry on one
event stream.

Thread Safety:
- The output callback renders the node and taps the analyser with TryLock only
- A single dispatch goroutine emits every event, so listeners see one order
- Control methods may be called from any goroutine, listeners included
*/
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lipsync/internal/analysis"
	"lipsync/internal/audio"
	"lipsync/internal/events"
	applog "lipsync/internal/log"
	"lipsync/internal/metrics"
	"lipsync/internal/playback"
	"lipsync/internal/source"
)

var (
	ErrNotInitialized   = errors.New("engine not initialized: call Init first")
	ErrInitFailed       = errors.New("engine initialization failed")
	ErrDestroyed        = errors.New("engine has been destroyed")
	ErrPlaybackDisabled = errors.New("playback is disabled")
	ErrSampleRate       = errors.New("sample rate mismatch")
)

const telemetryDepth = 1024

// Status is the lifecycle position of an Engine.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusReady
	StatusSourceBound
	StatusAnalyzing
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusReady:
		return "ready"
	case StatusSourceBound:
		return "sourceBound"
	case StatusAnalyzing:
		return "analyzing"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is a point-in-time snapshot for status endpoints and debugging.
type State struct {
	Status        Status            `json:"status"`
	SessionID     string            `json:"sessionId"`
	Initialized   bool              `json:"initialized"`
	Analyzing     bool              `json:"analyzing"`
	InputMode     events.SourceKind `json:"inputMode,omitempty"`
	SampleRate    float64           `json:"sampleRate"`
	Volume        float64           `json:"volume"`
	TimeMs        float64           `json:"playbackTimeMs"`
	BufferLevel   float64           `json:"bufferLevel"`
	BufferMs      float64           `json:"bufferMs"`
	IsPlaying     bool              `json:"isPlaying"`
	PlaybackState string            `json:"playbackState,omitempty"`
	Played        uint64            `json:"playedSamples"`
	Buffered      int               `json:"bufferedSamples"`
}

type outgoing struct {
	ev   events.Event
	done chan struct{}
}

// Engine is the lip-sync facade. Listeners are registered through the
// embedded Emitter; On, Once and OnAny refuse new listeners after Destroy.
type Engine struct {
	*events.Emitter

	opts    Options
	id      string
	output  audio.Output
	sched   Scheduler
	frames  <-chan time.Time
	metrics *metrics.Metrics

	// Lifecycle. Never held while listeners run.
	mu          sync.Mutex
	initialized bool
	destroyed   bool
	mode        events.SourceKind
	stream      source.Stream
	element     *source.MediaStream
	volume      float64
	ticks       <-chan Tick
	node        *playback.Node
	notifier    *playback.ChannelNotifier
	fft         *analysis.FFTProcessor
	quit        chan struct{}

	// Serializes Analyze against Reset and StopAnalysis.
	analysisMu sync.Mutex
	analyzer   *analysis.Analyzer
	analyzing  atomic.Bool

	tap atomic.Bool // the rendered output feeds the analyser

	posMu sync.Mutex
	pos   playback.Telemetry

	pendingMu sync.Mutex
	pending   []outgoing
	wake      chan struct{}
	done      chan struct{}

	reportedDrops uint64 // dispatcher only
}

// New validates opts and builds an engine. Nothing is opened until Init.
func New(opts Options, options ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	e := &Engine{
		Emitter: events.NewEmitter(),
		opts:    opts,
		id:      uuid.NewString(),
		volume:  max(0, min(1, opts.Volume)),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range options {
		o(e)
	}
	if e.sched == nil {
		e.sched = newScheduler(opts, e.frames)
	}
	if e.output == nil && opts.PlaybackEnabled {
		e.output = audio.NewNullOutput(opts.SampleRate, audio.DefaultBlockSize)
	}
	return e, nil
}

func newScheduler(opts Options, frames <-chan time.Time) Scheduler {
	switch opts.Cadence {
	case CadenceRefresh:
		return NewRefreshScheduler(opts.RefreshRate, frames)
	case CadenceManual:
		return NewManualScheduler()
	default:
		return NewIntervalScheduler(opts.Interval)
	}
}

// SessionID identifies this engine in logs, metrics and transports.
func (e *Engine) SessionID() string { return e.id }

// Options returns the configuration the engine was built with.
func (e *Engine) Options() Options { return e.opts }

// Scheduler returns the active analysis scheduler.
func (e *Engine) Scheduler() Scheduler { return e.sched }

// Init builds the analyser and playback node, opens the output and starts
// the dispatcher. It is a no-op once it has succeeded. Failures leave the
// engine uninitialized so Init may be retried.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.initialized {
		return nil
	}

	fft, err := analysis.NewFFTProcessor(e.opts.fftOptions())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	analyzer, err := analysis.NewAnalyzer(fft, e.opts.Analysis)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	notifier := playback.NewChannelNotifier(telemetryDepth)
	var node *playback.Node
	if e.opts.PlaybackEnabled {
		if rate := e.output.SampleRate(); rate != e.opts.SampleRate {
			return fmt.Errorf("%w: output runs at %.0f Hz, engine at %.0f Hz: %w",
				ErrInitFailed, rate, e.opts.SampleRate, ErrSampleRate)
		}
		node, err = playback.NewNode(e.opts.playbackConfig(), notifier)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
		if err := e.output.Open(e.renderer(node, fft)); err != nil {
			node.Close()
			return fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
	}

	e.fft = fft
	e.analyzer = analyzer
	e.notifier = notifier
	e.node = node
	e.quit = make(chan struct{})
	e.initialized = true

	e.post(events.Initialized{SessionID: e.id, SampleRate: e.opts.SampleRate})
	go e.dispatch(notifier, e.quit)

	applog.Infof("Engine: session %s initialized (%.0f Hz, FFT %d, cadence %s, playback %v)",
		e.id, e.opts.SampleRate, e.opts.FFTSize, e.opts.Cadence, e.opts.PlaybackEnabled)
	return nil
}

// renderer is the output callback.
// Performance Critical:
// - Runs on the audio thread
// - No locks beyond the analyser's TryLock, no allocation
func (e *Engine) renderer(node *playback.Node, fft *analysis.FFTProcessor) audio.Renderer {
	return audio.RenderFunc(func(out []float32) {
		node.Render(out)
		if e.tap.Load() {
			fft.TryProcess(out)
		}
	})
}

func (e *Engine) checkLocked() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) statusLocked() Status {
	switch {
	case e.destroyed:
		return StatusDestroyed
	case !e.initialized:
		return StatusUninitialized
	case e.analyzing.Load():
		return StatusAnalyzing
	case e.mode != "":
		return StatusSourceBound
	default:
		return StatusReady
	}
}

// Status returns the lifecycle status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// StartAnalysis begins emitting viseme frames at the configured cadence.
// Calling it while analysis runs is a no-op.
func (e *Engine) StartAnalysis() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if e.analyzing.Load() {
		return nil
	}
	e.ticks = e.sched.Start()
	e.analyzing.Store(true)
	e.post(events.AnalysisStarted{Mode: string(e.opts.Cadence)})
	applog.Debugf("Engine: analysis started (%s)", e.opts.Cadence)
	return nil
}

// StopAnalysis stops the loop. No frame is analyzed after it returns.
func (e *Engine) StopAnalysis() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if e.analyzing.Load() {
		e.stopAnalysisLocked()
	}
	return nil
}

func (e *Engine) stopAnalysisLocked() {
	e.analysisMu.Lock()
	e.analyzing.Store(false)
	e.analysisMu.Unlock()
	e.sched.Stop()
	e.ticks = nil
	e.post(events.AnalysisStopped{})
	applog.Debugf("Engine: analysis stopped")
}

func (e *Engine) playbackNode() (*playback.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return nil, err
	}
	if e.node == nil {
		return nil, ErrPlaybackDisabled
	}
	return e.node, nil
}

// Play starts playback without waiting for the auto-start threshold.
func (e *Engine) Play() error {
	node, err := e.playbackNode()
	if err != nil {
		return err
	}
	return node.Start()
}

// Pause fades playback out. Buffered audio is kept.
func (e *Engine) Pause() error {
	node, err := e.playbackNode()
	if err != nil {
		return err
	}
	return node.Stop()
}

// ClearBuffer drops buffered and queued audio.
func (e *Engine) ClearBuffer() error {
	node, err := e.playbackNode()
	if err != nil {
		return err
	}
	return node.Clear()
}

// SetVolume sets playback volume, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	e.volume = max(0, min(1, v))
	if e.node == nil {
		return nil
	}
	return e.node.SetVolume(e.volume)
}

// Reset drops buffered audio, zeroes playback counters and returns the
// classifier to silence. The bound source stays bound.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if e.node != nil {
		if err := e.node.Reset(); err != nil {
			return err
		}
	}
	e.analysisMu.Lock()
	e.analyzer.Reset()
	e.analysisMu.Unlock()
	e.fft.Reset()

	e.posMu.Lock()
	e.pos = playback.Telemetry{}
	e.posMu.Unlock()

	e.post(events.Reset{})
	return nil
}

// State returns a snapshot of the engine.
func (e *Engine) State() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return State{Status: StatusDestroyed, SessionID: e.id}, ErrDestroyed
	}

	s := State{
		Status:      e.statusLocked(),
		SessionID:   e.id,
		Initialized: e.initialized,
		Analyzing:   e.analyzing.Load(),
		InputMode:   e.mode,
		SampleRate:  e.opts.SampleRate,
		Volume:      e.volume,
	}
	e.posMu.Lock()
	s.TimeMs = e.pos.TimeMs
	s.BufferLevel = e.pos.BufferLevel
	s.BufferMs = e.pos.BufferMs
	s.IsPlaying = e.pos.IsPlaying
	e.posMu.Unlock()
	if e.node != nil {
		s.PlaybackState = e.node.State().String()
		s.Played = e.node.Played()
		s.Buffered = e.node.Buffered()
	}
	return s, nil
}

// Destroy stops analysis, detaches the source, closes the output, emits
// destroyed and drops every listener. It is idempotent. Events already
// queued are still delivered; Done is closed once the last one has been.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if e.initialized && e.analyzing.Load() {
		e.stopAnalysisLocked()
	}
	e.teardownSourceLocked(false)
	e.destroyed = true
	if e.node != nil {
		if err := e.output.Close(); err != nil {
			applog.Warnf("Engine: failed to close output: %v", err)
		}
		e.node.Close()
	}
	started := e.initialized
	quit := e.quit
	e.mu.Unlock()

	applog.Infof("Engine: session %s destroyed", e.id)
	if started {
		e.post(events.Destroyed{})
		close(quit)
		return
	}
	e.emit(events.Destroyed{})
	e.RemoveAllListeners()
	close(e.done)
}

// Done is closed after Destroy once every pending event has been delivered.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// On subscribes fn to events called name. After Destroy nothing is
// registered and 0 is returned.
func (e *Engine) On(name events.Name, fn events.Listener) events.ListenerID {
	if e.isDestroyed() {
		applog.Warnf("Engine: ignoring %s listener on destroyed session %s", name, e.id)
		return 0
	}
	return e.Emitter.On(name, fn)
}

// Once is On for a single delivery.
func (e *Engine) Once(name events.Name, fn events.Listener) events.ListenerID {
	if e.isDestroyed() {
		applog.Warnf("Engine: ignoring %s listener on destroyed session %s", name, e.id)
		return 0
	}
	return e.Emitter.Once(name, fn)
}

// OnAny subscribes fn to every event. After Destroy it returns 0.
func (e *Engine) OnAny(fn events.AnyListener) events.ListenerID {
	if e.isDestroyed() {
		applog.Warnf("Engine: ignoring wildcard listener on destroyed session %s", e.id)
		return 0
	}
	return e.Emitter.OnAny(fn)
}

// Flush blocks until every event queued so far, including playback
// telemetry already reported, has been delivered. It must not be called
// from a listener.
func (e *Engine) Flush() {
	e.mu.Lock()
	started := e.initialized
	e.mu.Unlock()
	if !started {
		return
	}

	done := make(chan struct{})
	e.pendingMu.Lock()
	e.pending = append(e.pending, outgoing{done: done})
	e.pendingMu.Unlock()
	e.signal()

	select {
	case <-done:
	case <-e.done:
	}
}

func (e *Engine) post(ev events.Event) {
	e.pendingMu.Lock()
	e.pending = append(e.pending, outgoing{ev: ev})
	e.pendingMu.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) emit(ev events.Event) {
	if e.metrics != nil {
		e.metrics.Observe(ev.EventName(), ev)
	}
	e.Emit(ev)
}

// dispatch owns event emission. It forwards playback telemetry, runs
// analysis ticks and delivers events queued by control methods.
func (e *Engine) dispatch(notifier *playback.ChannelNotifier, quit <-chan struct{}) {
	defer close(e.done)

	var ticks <-chan Tick
	e.flushPending()
	for {
		select {
		case t := <-notifier.C:
			e.forward(t)
		case tk := <-ticks:
			e.drainTelemetry(notifier)
			e.flushPending()
			e.tick(notifier)
			if tk.done != nil {
				close(tk.done)
			}
		case <-e.wake:
			e.mu.Lock()
			ticks = e.ticks
			e.mu.Unlock()
			e.drainTelemetry(notifier)
			e.flushPending()
		case <-quit:
			e.drainTelemetry(notifier)
			e.flushPending()
			e.RemoveAllListeners()
			return
		}
	}
}

func (e *Engine) flushPending() {
	for {
		e.pendingMu.Lock()
		batch := e.pending
		e.pending = nil
		e.pendingMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, o := range batch {
			if o.ev != nil {
				e.emit(o.ev)
			}
			if o.done != nil {
				close(o.done)
			}
		}
	}
}

func (e *Engine) drainTelemetry(notifier *playback.ChannelNotifier) {
	for {
		select {
		case t := <-notifier.C:
			e.forward(t)
		default:
			return
		}
	}
}

func (e *Engine) forward(t playback.Telemetry) {
	switch t.Kind {
	case playback.KindReady:
		e.emit(events.ProcessorReady{})
	case playback.KindPosition:
		e.posMu.Lock()
		e.pos = t
		e.posMu.Unlock()
		e.emit(events.Position{
			TimeMs:      t.TimeMs,
			BufferLevel: t.BufferLevel,
			BufferMs:    t.BufferMs,
			IsPlaying:   t.IsPlaying,
		})
	case playback.KindPlaybackStarted:
		e.emit(events.PlaybackStarted{})
	case playback.KindPlaybackEnded:
		e.emit(events.PlaybackEnded{})
	case playback.KindUnderrun:
		e.emit(events.BufferUnderrun{TimeMs: t.TimeMs})
	case playback.KindOverflow:
		e.emit(events.BufferOverflow{Dropped: t.Dropped})
	}
}

func (e *Engine) tick(notifier *playback.ChannelNotifier) {
	e.analysisMu.Lock()
	if !e.analyzing.Load() {
		e.analysisMu.Unlock()
		return
	}
	frame, err := e.analyzer.Analyze()
	e.analysisMu.Unlock()
	if err != nil {
		applog.Warnf("Engine: analysis tick failed: %v", err)
		return
	}

	// Only output-tapped audio has a meaningful play head.
	if e.tap.Load() {
		e.posMu.Lock()
		frame.TimeMs = e.pos.TimeMs
		frame.BufferLevel = e.pos.BufferLevel
		e.posMu.Unlock()
	}
	e.emit(events.Viseme{Frame: frame})

	if e.metrics != nil {
		if d := notifier.Dropped(); d > e.reportedDrops {
			e.metrics.AddTelemetryDropped(d - e.reportedDrops)
			e.reportedDrops = d
		}
	}
}
