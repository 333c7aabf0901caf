// SPDX-License-Identifier: MIT
/*
Package audio defines the output side of the engine: an Output pulls
fixed-size blocks from a Renderer on its own real-time thread.

Device backends live in subpackages (pa, miniaudio). ManualOutput and
NullOutput need no hardware and are used for offline rendering, headless
servers and tests.

Thread Safety:
- Render is called from exactly one goroutine per Output
- Render must not block or allocate
*/
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrAlreadyOpen = errors.New("output already open")
	ErrNotOpen     = errors.New("output not open")
)

// DefaultBlockSize is the render quantum, matching the browser audio graph.
const DefaultBlockSize = 128

// Renderer fills one block of mono output.
type Renderer interface {
	Render(out []float32)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(out []float32)

func (f RenderFunc) Render(out []float32) { f(out) }

// Output is an audio sink that pulls from a Renderer once opened.
type Output interface {
	Open(r Renderer) error
	SampleRate() float64
	Close() error
}

// ManualOutput renders only when Pull is called. Offline rendering and tests
// drive it block by block.
type ManualOutput struct {
	rate      float64
	blockSize int

	mu       sync.Mutex
	renderer Renderer
	block    []float32
}

// NewManualOutput returns an output with the given rate and block size.
func NewManualOutput(sampleRate float64, blockSize int) *ManualOutput {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &ManualOutput{
		rate:      sampleRate,
		blockSize: blockSize,
		block:     make([]float32, blockSize),
	}
}

func (m *ManualOutput) Open(r Renderer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderer != nil {
		return ErrAlreadyOpen
	}
	m.renderer = r
	return nil
}

func (m *ManualOutput) SampleRate() float64 { return m.rate }

// Pull renders n blocks and returns the last one. The returned slice is
// reused by the next call.
func (m *ManualOutput) Pull(n int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderer == nil {
		return nil, ErrNotOpen
	}
	for range n {
		m.renderer.Render(m.block)
	}
	return m.block, nil
}

// PullInto renders len(dst) samples in block-sized pieces.
func (m *ManualOutput) PullInto(dst []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderer == nil {
		return ErrNotOpen
	}
	for off := 0; off < len(dst); off += m.blockSize {
		end := min(off+m.blockSize, len(dst))
		m.renderer.Render(dst[off:end])
	}
	return nil
}

func (m *ManualOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderer = nil
	return nil
}

// NullOutput renders in real time and discards the result. It gives
// headless deployments a playback clock without a sound card.
type NullOutput struct {
	rate      float64
	blockSize int

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewNullOutput returns a discarding output.
func NewNullOutput(sampleRate float64, blockSize int) *NullOutput {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &NullOutput{rate: sampleRate, blockSize: blockSize}
}

func (n *NullOutput) Open(r Renderer) error {
	if n.rate <= 0 {
		return fmt.Errorf("null output: invalid sample rate %f", n.rate)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done != nil {
		return ErrAlreadyOpen
	}
	n.done = make(chan struct{})

	period := time.Duration(float64(n.blockSize) / n.rate * float64(time.Second))
	done := n.done
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		block := make([]float32, n.blockSize)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Render(block)
			case <-done:
				return
			}
		}
	}()
	return nil
}

func (n *NullOutput) SampleRate() float64 { return n.rate }

func (n *NullOutput) Close() error {
	n.mu.Lock()
	if n.done == nil {
		n.mu.Unlock()
		return nil
	}
	close(n.done)
	n.done = nil
	n.mu.Unlock()

	n.wg.Wait()
	return nil
}

var (
	_ Output = (*ManualOutput)(nil)
	_ Output = (*NullOutput)(nil)
)
