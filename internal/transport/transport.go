// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"slices"

	"lipsync/internal/events"
	applog "lipsync/internal/log"
)

// Transport defines a generic interface for sending engine events to an
// outside consumer. Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Forward sends every event emitted on em to t, wrapped in an
// events.Envelope. With names given, only those events are forwarded.
// Send errors are logged; the returned id detaches the forwarder.
func Forward(em *events.Emitter, t Transport, names ...events.Name) events.ListenerID {
	return em.OnAny(func(name events.Name, ev events.Event) {
		if len(names) > 0 && !slices.Contains(names, name) {
			return
		}
		if err := t.Send(events.Wrap(ev)); err != nil {
			applog.Debugf("Transport: failed to forward %s: %v", name, err)
		}
	})
}

// Controller is the set of engine controls a remote client may drive.
type Controller interface {
	Play() error
	Pause() error
	ClearBuffer() error
	Reset() error
	SetVolume(v float64) error
	StartAnalysis() error
	StopAnalysis() error
	FeedBase64(s string, sourceRate float64) error
}

// Command is an inbound control message, e.g.
// {"type":"audio","audio":"<base64 pcm16>","sampleRate":24000}.
type Command struct {
	Type       string  `json:"type"`
	Volume     float64 `json:"volume,omitempty"`
	Audio      string  `json:"audio,omitempty"`
	SampleRate float64 `json:"sampleRate,omitempty"`
}

var ErrUnknownCommand = errors.New("unknown command")

// Apply runs c against ctl.
func Apply(ctl Controller, c Command) error {
	switch c.Type {
	case "play":
		return ctl.Play()
	case "pause":
		return ctl.Pause()
	case "clear":
		return ctl.ClearBuffer()
	case "reset":
		return ctl.Reset()
	case "volume":
		return ctl.SetVolume(c.Volume)
	case "start":
		return ctl.StartAnalysis()
	case "stop":
		return ctl.StopAnalysis()
	case "audio":
		return ctl.FeedBase64(c.Audio, c.SampleRate)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, c.Type)
	}
}
