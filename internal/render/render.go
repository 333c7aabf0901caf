// SPDX-License-Identifier: MIT
/*
Package render turns viseme frames into visual surfaces. Every renderer
owns exactly one surface: a raster image (Canvas), an SVG fragment
(Vector) or an attribute set for a DOM element (Attribute). Render output
depends only on the frame passed in.
*/
package render

import (
	"errors"
	"fmt"

	"lipsync/internal/analysis"
	"lipsync/internal/events"
)

var ErrDestroyed = errors.New("renderer has been destroyed")

// Renderer draws frames onto its surface.
type Renderer interface {
	Render(f analysis.Frame) error
	Destroy()
}

// StateRenderer also accepts named states between speech segments.
type StateRenderer interface {
	Renderer
	RenderState(s NamedState) error
}

// NamedState is a non-speech pose injected by a higher level consumer.
type NamedState string

const (
	StateIdle      NamedState = "idle"
	StateBlink     NamedState = "blink"
	StateThinking  NamedState = "thinking"
	StateListening NamedState = "listening"
)

var namedShapes = map[NamedState]analysis.MouthShape{
	StateIdle:      {Open: 0, Width: 0.5, Round: 0},
	StateBlink:     {Open: 0, Width: 0.5, Round: 0},
	StateThinking:  {Open: 0, Width: 0.42, Round: 0.15},
	StateListening: {Open: 0.06, Width: 0.5, Round: 0},
}

// ParseNamedState validates a state name.
func ParseNamedState(s string) (NamedState, error) {
	ns := NamedState(s)
	if _, ok := namedShapes[ns]; !ok {
		return "", fmt.Errorf("unknown named state %q", s)
	}
	return ns, nil
}

// Shape is the mouth pose held in the state.
func (s NamedState) Shape() analysis.MouthShape {
	if shape, ok := namedShapes[s]; ok {
		return shape
	}
	return analysis.VisemeSil.Shape()
}

// Frame builds the rest frame a frame-only renderer shows for the state.
func (s NamedState) Frame() analysis.Frame {
	f := analysis.SilentFrame()
	f.Shape = s.Shape()
	return f
}

// Subscribe renders every viseme event emitted on em. The returned id
// detaches the renderer with em.Off.
func Subscribe(em *events.Emitter, r Renderer, onError func(error)) events.ListenerID {
	return em.On(events.NameViseme, func(ev events.Event) {
		v, ok := ev.(events.Viseme)
		if !ok {
			return
		}
		if err := r.Render(v.Frame); err != nil && onError != nil {
			onError(err)
		}
	})
}
