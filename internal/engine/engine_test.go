// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"math"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"lipsync/internal/analysis"
	"lipsync/internal/audio"
	"lipsync/internal/events"
	"lipsync/internal/metrics"
	"lipsync/internal/source"
	"lipsync/pkg/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type eventLog struct {
	mu     sync.Mutex
	names  []events.Name
	frames []analysis.Frame
}

func (l *eventLog) add(name events.Name, ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	if v, ok := ev.(events.Viseme); ok {
		l.frames = append(l.frames, v.Frame)
	}
}

func (l *eventLog) snapshot() ([]events.Name, []analysis.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.names), slices.Clone(l.frames)
}

func (l *eventLog) count(name events.Name) int {
	names, _ := l.snapshot()
	n := 0
	for _, got := range names {
		if got == name {
			n++
		}
	}
	return n
}

// indexOf returns the position of the nth (0-based) occurrence of name.
func (l *eventLog) indexOf(name events.Name, nth int) int {
	names, _ := l.snapshot()
	for i, got := range names {
		if got == name {
			if nth == 0 {
				return i
			}
			nth--
		}
	}
	return -1
}

type harness struct {
	e     *Engine
	out   *audio.ManualOutput
	sched *ManualScheduler
	log   *eventLog
}

func newHarness(t *testing.T, mutate func(*Options), extra ...Option) *harness {
	t.Helper()
	opts := DefaultOptions()
	opts.Cadence = CadenceManual
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{
		out:   audio.NewManualOutput(opts.SampleRate, audio.DefaultBlockSize),
		sched: NewManualScheduler(),
		log:   &eventLog{},
	}
	e, err := New(opts, append([]Option{WithOutput(h.out), WithScheduler(h.sched)}, extra...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.e = e
	e.OnAny(h.log.add)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		e.Destroy()
		<-e.Done()
	})
	return h
}

// step renders one FFT window of output and runs one analysis tick.
func (h *harness) step(t *testing.T) {
	t.Helper()
	if _, err := h.out.Pull(2); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if !h.sched.Tick() {
		t.Fatal("Tick reported analysis not running")
	}
}

type fakeStream struct {
	rate    float64
	sink    source.Sink
	started atomic.Bool
	stopped atomic.Bool
}

func (s *fakeStream) SampleRate() float64 { return s.rate }

func (s *fakeStream) Start(sink source.Sink) error {
	s.sink = sink
	s.started.Store(true)
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped.Store(true)
	return nil
}

type flakyOutput struct {
	*audio.ManualOutput
	failures int
}

var errPermission = errors.New("permission denied")

func (o *flakyOutput) Open(r audio.Renderer) error {
	if o.failures > 0 {
		o.failures--
		return errPermission
	}
	return o.ManualOutput.Open(r)
}

func TestInitIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.Init(); err != nil {
		t.Fatalf("second Init = %v", err)
	}
	h.e.Flush()

	names, _ := h.log.snapshot()
	if len(names) < 2 || names[0] != events.NameInitialized || names[1] != events.NameProcessorReady {
		t.Errorf("first events = %v, want initialized then processorReady", names)
	}
	if n := h.log.count(events.NameInitialized); n != 1 {
		t.Errorf("initialized emitted %d times", n)
	}
	if got := h.e.Status(); got != StatusReady {
		t.Errorf("status = %s, want ready", got)
	}
}

func TestControlsBeforeInit(t *testing.T) {
	e, err := New(DefaultOptions(), WithOutput(audio.NewManualOutput(24000, 128)))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	calls := map[string]func() error{
		"Feed":          func() error { return e.Feed([]float32{0}, 0) },
		"AttachStream":  func() error { return e.AttachStream(&fakeStream{rate: 24000}) },
		"StartAnalysis": e.StartAnalysis,
		"Play":          e.Play,
		"Pause":         e.Pause,
		"SetVolume":     func() error { return e.SetVolume(0.5) },
		"Reset":         e.Reset,
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("%s before Init = %v, want ErrNotInitialized", name, err)
		}
	}
	if got := e.Status(); got != StatusUninitialized {
		t.Errorf("status = %s", got)
	}
}

func TestInitFailureAllowsRetry(t *testing.T) {
	out := &flakyOutput{ManualOutput: audio.NewManualOutput(24000, 128), failures: 1}
	e, err := New(DefaultOptions(), WithOutput(out), WithScheduler(NewManualScheduler()))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		e.Destroy()
		<-e.Done()
	}()

	err = e.Init()
	if !errors.Is(err, ErrInitFailed) || !errors.Is(err, errPermission) {
		t.Fatalf("Init = %v, want ErrInitFailed wrapping the cause", err)
	}
	if got := e.Status(); got != StatusUninitialized {
		t.Errorf("status after failure = %s", got)
	}
	if err := e.Init(); err != nil {
		t.Fatalf("retry = %v", err)
	}
	if got := e.Status(); got != StatusReady {
		t.Errorf("status after retry = %s", got)
	}
}

func TestOutputRateMismatch(t *testing.T) {
	e, err := New(DefaultOptions(), WithOutput(audio.NewManualOutput(48000, 128)))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	err = e.Init()
	if !errors.Is(err, ErrInitFailed) || !errors.Is(err, ErrSampleRate) {
		t.Errorf("Init = %v, want a sample rate failure", err)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"fft size", func(o *Options) { o.FFTSize = 300 }},
		{"hold frames", func(o *Options) { o.Analysis.HoldFrames = 0 }},
		{"fade frames", func(o *Options) { o.FadeFrames = 0 }},
		{"interval", func(o *Options) { o.Interval = 0 }},
		{"cadence", func(o *Options) { o.Cadence = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New accepted invalid options")
			}
		})
	}
}

func TestQuietFeedStaysSilent(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.e.Feed(utils.GenerateSineWave(5000, 24000, 440, 0.005), 0); err != nil {
		t.Fatal(err)
	}
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}
	for range 20 {
		h.step(t)
	}
	h.e.Flush()

	_, frames := h.log.snapshot()
	if len(frames) != 20 {
		t.Fatalf("got %d frames, want 20", len(frames))
	}
	for i, f := range frames {
		if f.Viseme != analysis.VisemeSil || f.Intensity != 0 {
			t.Fatalf("frame %d: %s at intensity %f, want silence", i, f.Viseme, f.Intensity)
		}
	}
}

func TestToneConvergesThroughPlayback(t *testing.T) {
	h := newHarness(t, nil)

	// One 256-sample window per tick keeps every analysis window identical.
	tone := utils.GenerateSineWave(256, 24000, 1000, 0.5)
	for range 100 {
		if err := h.e.Feed(tone, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}
	for range 100 {
		h.step(t)
	}
	h.e.Flush()

	_, frames := h.log.snapshot()
	if len(frames) != 100 {
		t.Fatalf("got %d frames", len(frames))
	}
	// Both smoothing stages start from zero, so the class may pass through
	// neighbours before it settles. It must settle within the time the
	// slower stage needs to reach 1% of the input, plus the hold.
	opts := DefaultOptions()
	slowest := max(opts.Analysis.SmoothingFactor, opts.AnalyserSmoothing)
	bound := int(math.Ceil(math.Log(0.01)/math.Log(slowest))) + opts.Analysis.HoldFrames
	settledAt := 0
	for i := 1; i < len(frames); i++ {
		if frames[i].Viseme != frames[i-1].Viseme {
			settledAt = i
		}
	}
	if settledAt > bound {
		t.Fatalf("class still changing at frame %d, want settled by %d", settledAt, bound)
	}
	if frames[settledAt].Viseme == analysis.VisemeSil {
		t.Fatal("tone settled on silence")
	}

	last := frames[len(frames)-1]
	if last.TimeMs <= 0 {
		t.Errorf("frame not stamped with play position: %+v", last)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Count != frames[i-1].Count+1 {
			t.Fatalf("frame counter jumped at %d", i)
		}
		if frames[i].TimeMs < frames[i-1].TimeMs {
			t.Fatalf("timestamp went backwards at %d", i)
		}
	}
	if h.log.count(events.NamePlaybackStarted) != 1 {
		t.Errorf("playbackStarted count = %d", h.log.count(events.NamePlaybackStarted))
	}
}

func TestRebindDetachesFirst(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.e.Feed([]float32{0, 0, 0}, 0); err != nil {
		t.Fatal(err)
	}
	stream := &fakeStream{rate: 24000}
	if err := h.e.AttachStream(stream); err != nil {
		t.Fatal(err)
	}
	if !stream.started.Load() {
		t.Fatal("stream not started")
	}
	if err := h.e.AttachElement(&source.SliceMedia{Samples: make([]float32, 64), Rate: 24000}, false); err != nil {
		t.Fatal(err)
	}
	if !stream.stopped.Load() {
		t.Error("stream still running after rebinding")
	}
	h.e.Flush()

	attached := func(n int) int { return h.log.indexOf(events.NameSourceAttached, n) }
	detached := func(n int) int { return h.log.indexOf(events.NameSourceDetached, n) }
	if !(attached(0) < detached(0) && detached(0) < attached(1) &&
		attached(1) < detached(1) && detached(1) < attached(2)) {
		names, _ := h.log.snapshot()
		t.Errorf("event order = %v", names)
	}

	st, err := h.e.State()
	if err != nil {
		t.Fatal(err)
	}
	if st.InputMode != events.SourceElement || st.Status != StatusSourceBound {
		t.Errorf("state = %+v", st)
	}
}

func TestStreamIsAnalyzedButNotPlayed(t *testing.T) {
	h := newHarness(t, nil)
	stream := &fakeStream{rate: 24000}
	if err := h.e.AttachStream(stream); err != nil {
		t.Fatal(err)
	}
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}

	tone := utils.GenerateSineWave(256, 24000, 1000, 0.5)
	for range 30 {
		stream.sink(tone)
		block, err := h.out.Pull(2)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range block {
			if v != 0 {
				t.Fatalf("stream audio reached the output at %d: %f", i, v)
			}
		}
		h.sched.Tick()
	}
	h.e.Flush()

	_, frames := h.log.snapshot()
	last := frames[len(frames)-1]
	if last.Viseme == analysis.VisemeSil {
		t.Error("stream audio was not analyzed")
	}
	if last.TimeMs != 0 || last.BufferLevel != 0 {
		t.Errorf("analysis-only frame carries playback stamp: %+v", last)
	}
}

func TestStreamRateMismatch(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.AttachStream(&fakeStream{rate: 48000}); !errors.Is(err, ErrSampleRate) {
		t.Errorf("AttachStream = %v, want ErrSampleRate", err)
	}
}

func TestStopAnalysisIsSynchronous(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatalf("second StartAnalysis = %v", err)
	}
	if got := h.e.Status(); got != StatusAnalyzing {
		t.Errorf("status = %s", got)
	}
	h.step(t)
	if err := h.e.StopAnalysis(); err != nil {
		t.Fatal(err)
	}
	if h.sched.Tick() {
		t.Error("Tick succeeded after StopAnalysis")
	}
	h.e.Flush()

	if n := h.log.count(events.NameViseme); n != 1 {
		t.Errorf("viseme count = %d, want 1", n)
	}
	if h.log.indexOf(events.NameViseme, 0) > h.log.indexOf(events.NameAnalysisStopped, 0) {
		t.Error("viseme delivered after analysisStopped")
	}
	if h.log.count(events.NameAnalysisStarted) != 1 {
		t.Error("analysisStarted should be emitted once")
	}
}

func TestPlaybackControls(t *testing.T) {
	h := newHarness(t, nil)

	// 25 ms is below the 50 ms auto-start threshold.
	if err := h.e.Feed(utils.GenerateConstant(600, 0.3), 0); err != nil {
		t.Fatal(err)
	}
	h.out.Pull(1)
	h.e.Flush()
	if h.log.count(events.NamePlaybackStarted) != 0 {
		t.Fatal("playback started below threshold")
	}

	if err := h.e.Play(); err != nil {
		t.Fatal(err)
	}
	h.out.Pull(1)
	if err := h.e.Pause(); err != nil {
		t.Fatal(err)
	}
	h.out.Pull(1)
	h.e.Flush()

	if h.log.count(events.NamePlaybackStarted) != 1 || h.log.count(events.NamePlaybackEnded) != 1 {
		names, _ := h.log.snapshot()
		t.Errorf("events = %v", names)
	}

	if err := h.e.SetVolume(2); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Reset(); err != nil {
		t.Fatal(err)
	}
	h.e.Flush()
	st, _ := h.e.State()
	if st.Volume != 1 || st.TimeMs != 0 || st.BufferLevel != 0 {
		t.Errorf("state after reset = %+v", st)
	}
	if h.log.count(events.NameReset) != 1 {
		t.Error("reset not emitted")
	}
	if err := h.e.ClearBuffer(); err != nil {
		t.Errorf("ClearBuffer = %v", err)
	}
}

func TestFeedConversions(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.e.FeedInt16([]int16{16384, -16384}, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.e.FeedPCM16(source.EncodePCM16LE([]float32{0.5}), 0); err != nil {
		t.Fatal(err)
	}
	if err := h.e.FeedBase64(source.EncodeBase64PCM16([]float32{0.25, 0.25}), 48000); err != nil {
		t.Fatal(err)
	}
	if err := h.e.FeedBase64("not base64!", 0); err == nil {
		t.Error("invalid base64 accepted")
	}

	h.out.Pull(1)
	h.e.Flush()
	st, _ := h.e.State()
	// 2 + 1 + 1 (two samples at 48 kHz resampled to one at 24 kHz)
	if st.Buffered != 4 {
		t.Errorf("buffered = %d, want 4", st.Buffered)
	}
	if h.log.count(events.NameSourceAttached) != 1 {
		t.Error("repeated feeds should bind once")
	}
}

func TestPlaybackDisabledAnalyzesFeedDirectly(t *testing.T) {
	opts := DefaultOptions()
	opts.Cadence = CadenceManual
	opts.PlaybackEnabled = false
	sched := NewManualScheduler()
	e, err := New(opts, WithScheduler(sched))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		e.Destroy()
		<-e.Done()
	}()
	if err := e.Init(); err != nil {
		t.Fatal(err)
	}

	if err := e.Play(); !errors.Is(err, ErrPlaybackDisabled) {
		t.Errorf("Play = %v", err)
	}
	if err := e.AttachElement(&source.SliceMedia{Rate: 24000}, true); !errors.Is(err, ErrPlaybackDisabled) {
		t.Errorf("routed AttachElement = %v", err)
	}

	var last analysis.Frame
	e.On(events.NameViseme, func(ev events.Event) { last = ev.(events.Viseme).Frame })
	if err := e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}
	tone := utils.GenerateSineWave(256, 24000, 1000, 0.5)
	for range 30 {
		if err := e.Feed(tone, 0); err != nil {
			t.Fatal(err)
		}
		sched.Tick()
	}
	e.Flush()
	if last.Viseme == analysis.VisemeSil {
		t.Error("fed audio was not analyzed")
	}
}

func TestDestroyIsIdempotentAndTerminal(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}

	h.e.Destroy()
	h.e.Destroy()
	<-h.e.Done()

	if n := h.log.count(events.NameDestroyed); n != 1 {
		t.Errorf("destroyed emitted %d times", n)
	}
	if h.log.indexOf(events.NameAnalysisStopped, 0) > h.log.indexOf(events.NameDestroyed, 0) {
		t.Error("analysis must stop before destroyed")
	}
	if n := h.e.ListenerCount(events.NameViseme); n != 0 {
		t.Errorf("%d listeners left", n)
	}

	calls := map[string]func() error{
		"Init":          h.e.Init,
		"Feed":          func() error { return h.e.Feed([]float32{0}, 0) },
		"AttachElement": func() error { return h.e.AttachElement(&source.SliceMedia{Rate: 24000}, false) },
		"StartAnalysis": h.e.StartAnalysis,
		"StopAnalysis":  h.e.StopAnalysis,
		"Play":          h.e.Play,
		"ClearBuffer":   h.e.ClearBuffer,
		"Reset":         h.e.Reset,
		"Detach":        h.e.Detach,
		"State":         func() error { _, err := h.e.State(); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrDestroyed) {
			t.Errorf("%s after Destroy = %v, want ErrDestroyed", name, err)
		}
	}
	if h.e.Status() != StatusDestroyed {
		t.Errorf("status = %s", h.e.Status())
	}
}

func TestDestroyBeforeInit(t *testing.T) {
	e, err := New(DefaultOptions(), WithOutput(audio.NewManualOutput(24000, 128)))
	if err != nil {
		t.Fatal(err)
	}
	var got []events.Name
	e.OnAny(func(name events.Name, _ events.Event) { got = append(got, name) })

	e.Destroy()
	<-e.Done()
	if len(got) != 1 || got[0] != events.NameDestroyed {
		t.Errorf("events = %v", got)
	}
	if err := e.Init(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Init after Destroy = %v", err)
	}
}

func TestListenersRefusedAfterDestroy(t *testing.T) {
	h := newHarness(t, nil)
	if id := h.e.On(events.NameViseme, func(events.Event) {}); id == 0 {
		t.Fatal("On before Destroy returned 0")
	}
	h.e.Destroy()
	<-h.e.Done()

	if id := h.e.On(events.NameDestroyed, func(events.Event) {}); id != 0 {
		t.Errorf("On after Destroy = %d, want 0", id)
	}
	if id := h.e.Once(events.NameDestroyed, func(events.Event) {}); id != 0 {
		t.Errorf("Once after Destroy = %d, want 0", id)
	}
	if id := h.e.OnAny(func(events.Name, events.Event) {}); id != 0 {
		t.Errorf("OnAny after Destroy = %d, want 0", id)
	}
	if n := h.e.ListenerCount(events.NameDestroyed); n != 0 {
		t.Errorf("%d listeners registered after Destroy", n)
	}
}

func TestDestroyFromListener(t *testing.T) {
	h := newHarness(t, nil)
	h.e.On(events.NameAnalysisStarted, func(events.Event) { h.e.Destroy() })
	if err := h.e.StartAnalysis(); err != nil {
		t.Fatal(err)
	}
	<-h.e.Done()
	if h.log.count(events.NameDestroyed) != 1 {
		t.Error("destroyed not delivered")
	}
}

func TestMetricsObserveEvents(t *testing.T) {
	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, nil, WithMetrics(m))
	if err := h.e.Feed(utils.GenerateConstant(64, 0.1), 0); err != nil {
		t.Fatal(err)
	}
	h.e.Flush()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`lipsync_events_total{event="initialized"} 1`,
		`lipsync_events_total{event="sourceAttached"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
