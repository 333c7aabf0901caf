// SPDX-License-Identifier: MIT
package analysis

// MouthShape is a normalized mouth posture. All fields are in [0, 1].
type MouthShape struct {
	Open  float64 `json:"open"`
	Width float64 `json:"width"`
	Round float64 `json:"round"`
}

// LerpShape blends a toward b by t.
func LerpShape(a, b MouthShape, t float64) MouthShape {
	return MouthShape{
		Open:  Lerp(a.Open, b.Open, t),
		Width: Lerp(a.Width, b.Width, t),
		Round: Lerp(a.Round, b.Round, t),
	}
}

// Transition records the blend between the previous and current class.
type Transition struct {
	From     Viseme  `json:"from"`
	To       Viseme  `json:"to"`
	Progress float64 `json:"progress"`
}

// Frame is the result of one analysis tick. It is a value; consumers may keep it.
type Frame struct {
	Viseme      Viseme       `json:"viseme"`
	Coarse      CoarseViseme `json:"simpleViseme"`
	Intensity   float64      `json:"intensity"`
	Confidence  float64      `json:"confidence"`
	Amplitude   float64      `json:"amplitude"`
	Bands       BandEnergies `json:"bands"`
	Shape       MouthShape   `json:"shape"`
	Transition  Transition   `json:"transition"`
	Count       uint64       `json:"frame"`
	TimeMs      float64      `json:"timestamp"`
	BufferLevel float64      `json:"bufferLevel"`
}

// SilentFrame is what a renderer should show before any analysis has run.
func SilentFrame() Frame {
	return Frame{
		Viseme:     VisemeSil,
		Coarse:     CoarseA,
		Shape:      VisemeSil.Shape(),
		Transition: Transition{From: VisemeSil, To: VisemeSil, Progress: 1},
	}
}
