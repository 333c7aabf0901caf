// SPDX-License-Identifier: MIT
package playback

import (
	"errors"
	"sync/atomic"
)

var (
	ErrPortFull   = errors.New("playback control port is full")
	ErrNodeClosed = errors.New("playback node is closed")
)

const (
	defaultAudioDepth   = 512
	defaultControlDepth = 64
)

type controlKind uint8

const (
	ctlStart controlKind = iota
	ctlStop
	ctlClear
	ctlReset
	ctlVolume
)

type control struct {
	kind  controlKind
	value float64
	gen   uint64
}

type chunk struct {
	samples []float32
	gen     uint64
}

// Node is the message port between control goroutines and the audio
// callback. Producers post audio and controls; Render applies them at the
// start of each block and then runs the Processor.
//
// Audio and controls travel on separate queues. Each audio chunk carries the
// clear generation it was posted under so a Clear or Reset discards audio
// that was posted before it but not yet applied.
type Node struct {
	proc     *Processor
	notify   Notifier
	audio    chan chunk
	controls chan control

	gen     atomic.Uint64 // bumped by Clear and Reset on the producer side
	applied uint64        // audio thread's view of gen
	closed  atomic.Bool

	played   atomic.Uint64
	buffered atomic.Int64
}

// NewNode builds the processor and reports KindReady once it exists.
func NewNode(cfg Config, notify Notifier) (*Node, error) {
	if notify == nil {
		notify = discardNotifier{}
	}
	proc, err := NewProcessor(cfg, notify)
	if err != nil {
		return nil, err
	}
	n := &Node{
		proc:     proc,
		notify:   notify,
		audio:    make(chan chunk, defaultAudioDepth),
		controls: make(chan control, defaultControlDepth),
	}
	notify.Notify(Telemetry{Kind: KindReady})
	return n, nil
}

// Post queues samples for playback. The node takes ownership of the slice.
// When the queue is full the oldest pending chunk is dropped and reported as
// an overflow.
func (n *Node) Post(samples []float32) error {
	if n.closed.Load() {
		return ErrNodeClosed
	}
	if len(samples) == 0 {
		return nil
	}
	c := chunk{samples: samples, gen: n.gen.Load()}
	for {
		select {
		case n.audio <- c:
			return nil
		default:
		}
		select {
		case old := <-n.audio:
			n.notify.Notify(Telemetry{Kind: KindOverflow, Dropped: len(old.samples)})
		default:
		}
	}
}

func (n *Node) send(c control) error {
	if n.closed.Load() {
		return ErrNodeClosed
	}
	select {
	case n.controls <- c:
		return nil
	default:
		return ErrPortFull
	}
}

// Start begins playback without waiting for the start threshold.
func (n *Node) Start() error { return n.send(control{kind: ctlStart}) }

// Stop fades playback out.
func (n *Node) Stop() error { return n.send(control{kind: ctlStop}) }

// Clear discards buffered and pending audio.
func (n *Node) Clear() error {
	return n.send(control{kind: ctlClear, gen: n.gen.Add(1)})
}

// Reset discards audio, zeroes counters and re-arms auto-start.
func (n *Node) Reset() error {
	return n.send(control{kind: ctlReset, gen: n.gen.Add(1)})
}

// SetVolume posts a volume change; the processor clamps it.
func (n *Node) SetVolume(v float64) error {
	return n.send(control{kind: ctlVolume, value: v})
}

// Close rejects further posts. Pending messages are dropped.
func (n *Node) Close() {
	n.closed.Store(true)
}

// Render drains the queues and fills out. Called from the audio callback.
func (n *Node) Render(out []float32) {
	n.drain()
	n.proc.Process(out)
	n.played.Store(n.proc.Played())
	n.buffered.Store(int64(n.proc.Buffered()))
}

func (n *Node) drain() {
	n.drainControls()
	for {
		var c chunk
		select {
		case c = <-n.audio:
		default:
			return
		}
		if c.gen > n.applied {
			// the Clear or Reset this chunk was posted after is already queued
			n.drainControls()
		}
		if c.gen < n.applied {
			continue
		}
		n.proc.Enqueue(c.samples)
	}
}

// Render is the only receiver on controls, so a non-zero len guarantees
// the receive does not block.
func (n *Node) drainControls() {
	for len(n.controls) > 0 {
		n.apply(<-n.controls)
	}
}

func (n *Node) apply(c control) {
	switch c.kind {
	case ctlStart:
		n.proc.Start()
	case ctlStop:
		n.proc.Stop()
	case ctlClear:
		n.applied = max(n.applied, c.gen)
		n.proc.Clear()
	case ctlReset:
		n.applied = max(n.applied, c.gen)
		n.proc.Reset()
	case ctlVolume:
		n.proc.SetVolume(c.value)
	}
}

// State returns the processor state. Safe from any goroutine.
func (n *Node) State() State { return n.proc.State() }

// Played returns samples rendered as of the last block.
func (n *Node) Played() uint64 { return n.played.Load() }

// Buffered returns queued samples as of the last block.
func (n *Node) Buffered() int { return int(n.buffered.Load()) }

// SampleRate of the output stream.
func (n *Node) SampleRate() float64 { return n.proc.cfg.SampleRate }
