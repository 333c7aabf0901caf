// SPDX-License-Identifier: MIT
package events

import "lipsync/internal/analysis"

// Name identifies an event variant on the wire and in subscriptions.
type Name string

const (
	NameInitialized     Name = "initialized"
	NameViseme          Name = "viseme"
	NamePosition        Name = "position"
	NamePlaybackStarted Name = "playbackStarted"
	NamePlaybackEnded   Name = "playbackEnded"
	NameBufferUnderrun  Name = "bufferUnderrun"
	NameBufferOverflow  Name = "bufferOverflow"
	NameProcessorReady  Name = "processorReady"
	NameSourceAttached  Name = "sourceAttached"
	NameSourceDetached  Name = "sourceDetached"
	NameAnalysisStarted Name = "analysisStarted"
	NameAnalysisStopped Name = "analysisStopped"
	NameReset           Name = "reset"
	NameDestroyed       Name = "destroyed"
)

// Names lists every variant.
func Names() []Name {
	return []Name{
		NameInitialized, NameViseme, NamePosition, NamePlaybackStarted,
		NamePlaybackEnded, NameBufferUnderrun, NameBufferOverflow,
		NameProcessorReady, NameSourceAttached, NameSourceDetached,
		NameAnalysisStarted, NameAnalysisStopped, NameReset, NameDestroyed,
	}
}

// Event is implemented by every variant below and nothing else.
type Event interface {
	EventName() Name
	sealed()
}

// SourceKind is the input mode a source was bound in.
type SourceKind string

const (
	SourceFeed    SourceKind = "feed"
	SourceStream  SourceKind = "stream"
	SourceElement SourceKind = "element"
)

type (
	Initialized struct {
		SessionID  string  `json:"sessionId"`
		SampleRate float64 `json:"sampleRate"`
	}

	// Viseme carries one analysis frame.
	Viseme struct {
		analysis.Frame
	}

	Position struct {
		TimeMs      float64 `json:"timeMs"`
		BufferLevel float64 `json:"bufferLevel"`
		BufferMs    float64 `json:"bufferMs"`
		IsPlaying   bool    `json:"isPlaying"`
	}

	PlaybackStarted struct{}
	PlaybackEnded   struct{}

	BufferUnderrun struct {
		TimeMs float64 `json:"timeMs"`
	}

	BufferOverflow struct {
		Dropped int `json:"dropped"`
	}

	ProcessorReady struct{}

	SourceAttached struct {
		Kind SourceKind `json:"type"`
	}

	SourceDetached struct {
		Kind SourceKind `json:"type"`
	}

	AnalysisStarted struct {
		Mode string `json:"mode"`
	}

	AnalysisStopped struct{}
	Reset           struct{}
	Destroyed       struct{}
)

func (Initialized) EventName() Name     { return NameInitialized }
func (Viseme) EventName() Name          { return NameViseme }
func (Position) EventName() Name        { return NamePosition }
func (PlaybackStarted) EventName() Name { return NamePlaybackStarted }
func (PlaybackEnded) EventName() Name   { return NamePlaybackEnded }
func (BufferUnderrun) EventName() Name  { return NameBufferUnderrun }
func (BufferOverflow) EventName() Name  { return NameBufferOverflow }
func (ProcessorReady) EventName() Name  { return NameProcessorReady }
func (SourceAttached) EventName() Name  { return NameSourceAttached }
func (SourceDetached) EventName() Name  { return NameSourceDetached }
func (AnalysisStarted) EventName() Name { return NameAnalysisStarted }
func (AnalysisStopped) EventName() Name { return NameAnalysisStopped }
func (Reset) EventName() Name           { return NameReset }
func (Destroyed) EventName() Name       { return NameDestroyed }

func (Initialized) sealed()     {}
func (Viseme) sealed()          {}
func (Position) sealed()        {}
func (PlaybackStarted) sealed() {}
func (PlaybackEnded) sealed()   {}
func (BufferUnderrun) sealed()  {}
func (BufferOverflow) sealed()  {}
func (ProcessorReady) sealed()  {}
func (SourceAttached) sealed()  {}
func (SourceDetached) sealed()  {}
func (AnalysisStarted) sealed() {}
func (AnalysisStopped) sealed() {}
func (Reset) sealed()           {}
func (Destroyed) sealed()       {}

// Envelope is the JSON shape used by transports: {"event": name, "data": payload}.
type Envelope struct {
	Event Name  `json:"event"`
	Data  Event `json:"data"`
}

// Wrap builds the envelope for ev.
func Wrap(ev Event) Envelope {
	return Envelope{Event: ev.EventName(), Data: ev}
}
