// SPDX-License-Identifier: MIT
package playback

import "sync/atomic"

// TelemetryKind tags a Telemetry value.
type TelemetryKind uint8

const (
	KindReady TelemetryKind = iota
	KindPosition
	KindPlaybackStarted
	KindPlaybackEnded
	KindUnderrun
	KindOverflow
)

func (k TelemetryKind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindPosition:
		return "position"
	case KindPlaybackStarted:
		return "playbackStarted"
	case KindPlaybackEnded:
		return "playbackEnded"
	case KindUnderrun:
		return "bufferUnderrun"
	case KindOverflow:
		return "bufferOverflow"
	default:
		return "unknown"
	}
}

// Telemetry is a flat value so it can cross from the audio thread without
// allocating. Only the fields relevant to Kind are set.
type Telemetry struct {
	Kind        TelemetryKind
	TimeMs      float64
	BufferLevel float64
	BufferMs    float64
	IsPlaying   bool
	Dropped     int
}

// Notifier receives telemetry. Implementations must never block.
type Notifier interface {
	Notify(Telemetry)
}

// NotifierFunc adapts a function. Only for callers that already run off the
// audio thread (tests, offline rendering).
type NotifierFunc func(Telemetry)

func (f NotifierFunc) Notify(t Telemetry) { f(t) }

// ChannelNotifier forwards telemetry into a buffered channel and counts what
// it had to drop when the reader falls behind.
type ChannelNotifier struct {
	C       chan Telemetry
	dropped atomic.Uint64
}

// NewChannelNotifier allocates a notifier with the given queue depth.
func NewChannelNotifier(depth int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Telemetry, depth)}
}

func (n *ChannelNotifier) Notify(t Telemetry) {
	select {
	case n.C <- t:
	default:
		n.dropped.Add(1)
	}
}

// Dropped returns how many messages were discarded.
func (n *ChannelNotifier) Dropped() uint64 { return n.dropped.Load() }

type discardNotifier struct{}

func (discardNotifier) Notify(Telemetry) {}
