// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"fmt"
	"slices"

	goaudio "github.com/go-audio/audio"

	"lipsync/internal/audio"
	"lipsync/internal/events"
	applog "lipsync/internal/log"
	"lipsync/internal/playback"
	"lipsync/internal/source"
)

// Feed queues mono float32 samples for playback and analysis, binding the
// engine to feed mode if another source was bound. sourceRate 0 means the
// working rate; any other rate is resampled. samples is copied.
func (e *Engine) Feed(samples []float32, sourceRate float64) error {
	return e.feed(samples, sourceRate, false)
}

// FeedInt16 feeds signed 16-bit samples.
func (e *Engine) FeedInt16(pcm []int16, sourceRate float64) error {
	return e.feed(source.Int16ToFloat32(pcm), sourceRate, true)
}

// FeedPCM16 feeds little-endian 16-bit PCM bytes, the usual TTS wire format.
func (e *Engine) FeedPCM16(b []byte, sourceRate float64) error {
	return e.feed(source.DecodePCM16LE(b), sourceRate, true)
}

// FeedBase64 feeds base64-encoded little-endian 16-bit PCM.
func (e *Engine) FeedBase64(s string, sourceRate float64) error {
	samples, err := source.DecodeBase64PCM16(s)
	if err != nil {
		return fmt.Errorf("failed to decode audio chunk: %w", err)
	}
	return e.feed(samples, sourceRate, true)
}

// FeedBuffer feeds a go-audio buffer, downmixed to mono at the buffer's
// own sample rate.
func (e *Engine) FeedBuffer(buf goaudio.Buffer) error {
	samples, rate, err := source.FromBuffer(buf)
	if err != nil {
		return fmt.Errorf("failed to convert audio buffer: %w", err)
	}
	return e.feed(samples, rate, false)
}

func (e *Engine) feed(samples []float32, sourceRate float64, owned bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if e.mode != events.SourceFeed {
		e.teardownSourceLocked(true)
		e.mode = events.SourceFeed
		e.tap.Store(e.node != nil)
		e.post(events.SourceAttached{Kind: events.SourceFeed})
	}
	if len(samples) == 0 {
		return nil
	}

	samples = e.convert(samples, sourceRate, owned)
	if e.node == nil {
		e.fft.Process(samples)
		return nil
	}
	return e.node.Post(samples)
}

// convert resamples to the working rate. The result is always a slice the
// caller may hand off.
func (e *Engine) convert(samples []float32, rate float64, owned bool) []float32 {
	if rate > 0 && rate != e.opts.SampleRate {
		return source.Resample(samples, rate, e.opts.SampleRate)
	}
	if owned {
		return samples
	}
	return slices.Clone(samples)
}

// AttachStream binds a live capture for analysis only. The stream is never
// routed to the output.
func (e *Engine) AttachStream(s source.Stream) error {
	if s == nil {
		return errors.New("attach stream: nil stream")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if rate := s.SampleRate(); rate != e.opts.SampleRate {
		return fmt.Errorf("stream runs at %.0f Hz, engine at %.0f Hz: %w", rate, e.opts.SampleRate, ErrSampleRate)
	}

	e.teardownSourceLocked(true)
	fft := e.fft
	if err := s.Start(func(buf []float32) { fft.TryProcess(buf) }); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	e.stream = s
	e.mode = events.SourceStream
	e.post(events.SourceAttached{Kind: events.SourceStream})
	applog.Infof("Engine: stream attached (%.0f Hz)", s.SampleRate())
	return nil
}

// AttachElement binds a media element. It is paced in real time, analyzed,
// and played through the output when route is set. The caller keeps
// ownership of m and closes it after detaching.
func (e *Engine) AttachElement(m source.Media, route bool) error {
	if m == nil {
		return errors.New("attach element: nil media")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if route && e.node == nil {
		return ErrPlaybackDisabled
	}
	if m.SampleRate() <= 0 {
		return fmt.Errorf("media has invalid sample rate %f", m.SampleRate())
	}

	e.teardownSourceLocked(true)
	rate := m.SampleRate()
	var sink source.Sink
	if route {
		sink = e.routeSink(e.node, rate)
	} else {
		fft := e.fft
		sink = func(buf []float32) {
			fft.Process(source.Resample(buf, rate, e.opts.SampleRate))
		}
	}

	ms := source.NewMediaStream(m, audio.DefaultBlockSize)
	if err := ms.Start(sink); err != nil {
		return fmt.Errorf("failed to start media element: %w", err)
	}
	e.element = ms
	e.mode = events.SourceElement
	e.tap.Store(route)
	e.post(events.SourceAttached{Kind: events.SourceElement})
	applog.Infof("Engine: element attached (%.0f Hz, routed %v)", rate, route)
	return nil
}

func (e *Engine) routeSink(node *playback.Node, rate float64) source.Sink {
	return func(buf []float32) {
		if err := node.Post(e.convert(buf, rate, false)); err != nil && !errors.Is(err, playback.ErrNodeClosed) {
			applog.Warnf("Engine: dropped element audio: %v", err)
		}
	}
}

// MediaFinished is closed when the bound element has delivered its last
// sample. It returns nil when no element is bound.
func (e *Engine) MediaFinished() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.element == nil {
		return nil
	}
	return e.element.Finished()
}

// Detach unbinds the current source, if any.
func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	e.teardownSourceLocked(true)
	return nil
}

// teardownSourceLocked disconnects the bound source before anything else is
// bound, so at most one source ever feeds the analyser.
func (e *Engine) teardownSourceLocked(announce bool) {
	old := e.mode
	switch old {
	case "":
		return
	case events.SourceStream:
		if err := e.stream.Stop(); err != nil {
			applog.Warnf("Engine: failed to stop stream: %v", err)
		}
		e.stream = nil
	case events.SourceElement:
		if err := e.element.Stop(); err != nil {
			applog.Warnf("Engine: failed to stop element: %v", err)
		}
		e.element = nil
		e.clearNodeLocked()
	case events.SourceFeed:
		e.clearNodeLocked()
	}
	e.tap.Store(false)
	e.mode = ""
	if announce {
		e.post(events.SourceDetached{Kind: old})
	}
}

func (e *Engine) clearNodeLocked() {
	if e.node == nil {
		return
	}
	if err := e.node.Clear(); err != nil && !errors.Is(err, playback.ErrNodeClosed) {
		applog.Warnf("Engine: failed to clear playback: %v", err)
	}
}
