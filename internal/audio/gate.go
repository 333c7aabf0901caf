// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate silences microphone blocks whose peak stays under a threshold, so
// room noise does not animate the mouth. Safe to reconfigure while the
// capture callback is running.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits
}

// NewGate returns an enabled gate. threshold is a linear peak in [0, 1].
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	g.enabled.Store(true)
	return g
}

func (g *Gate) Enable()  { g.enabled.Store(true) }
func (g *Gate) Disable() { g.enabled.Store(false) }

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	threshold = math.Max(0, math.Min(1, threshold))
	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// Threshold returns the current gate threshold.
func (g *Gate) Threshold() float64 {
	return float64(math.Float32frombits(g.threshold.Load()))
}

// Apply zeroes buf in place when the gate is closed and reports whether
// the block passed.
// Performance Critical (Hot Path):
// - No allocations
func (g *Gate) Apply(buf []float32) bool {
	if !g.enabled.Load() {
		return true
	}
	limit := math.Float32frombits(g.threshold.Load())
	var peak float32
	for _, s := range buf {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak > limit {
		return true
	}
	clear(buf)
	return false
}
