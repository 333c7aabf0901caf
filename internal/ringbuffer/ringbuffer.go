// SPDX-License-Identifier: MIT
/*
Package ringbuffer implements a fixed-capacity circular store of float32
samples for a single producer and a single consumer.

Thread Safety:
- No locks. Both ends must run on the same goroutine, or the caller must
  provide its own ordering (the playback node drains its port on the audio
  thread before touching the buffer).
- Storage is allocated once in New; no method allocates.
*/
package ringbuffer

import "fmt"

// RingBuffer holds up to Cap() samples in FIFO order.
// Invariant: 0 <= available <= capacity.
type RingBuffer struct {
	data      []float32
	capacity  int
	readPos   int
	writePos  int
	available int
}

// New allocates a buffer holding capacity samples.
func New(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer{
		data:     make([]float32, capacity),
		capacity: capacity,
	}, nil
}

// Write stores as many samples as fit and returns the count written.
// Samples beyond the free space are discarded.
func (rb *RingBuffer) Write(samples []float32) int {
	n := min(len(samples), rb.capacity-rb.available)
	rb.put(samples[:n])
	return n
}

// WriteOverflow stores every sample, overwriting the oldest entries once the
// buffer is full. It returns the number of samples that were overwritten.
func (rb *RingBuffer) WriteOverflow(samples []float32) int {
	overwritten := 0

	// Only the newest capacity samples can survive.
	if len(samples) > rb.capacity {
		overwritten = len(samples) - rb.capacity
		samples = samples[overwritten:]
	}

	free := rb.capacity - rb.available
	if len(samples) > free {
		drop := len(samples) - free
		rb.readPos = (rb.readPos + drop) % rb.capacity
		rb.available -= drop
		overwritten += drop
	}

	rb.put(samples)
	return overwritten
}

// put copies samples at the write position. Caller guarantees they fit.
func (rb *RingBuffer) put(samples []float32) {
	for len(samples) > 0 {
		n := copy(rb.data[rb.writePos:], samples)
		rb.writePos = (rb.writePos + n) % rb.capacity
		rb.available += n
		samples = samples[n:]
	}
}

// Read fills target from the oldest samples and returns the count read.
// A short read means the buffer ran dry.
func (rb *RingBuffer) Read(target []float32) int {
	return rb.ReadN(target, 0, len(target))
}

// ReadN reads up to count samples into target starting at offset.
func (rb *RingBuffer) ReadN(target []float32, offset, count int) int {
	if offset < 0 || offset >= len(target) || count <= 0 {
		return 0
	}
	n := min(count, len(target)-offset, rb.available)
	dst := target[offset : offset+n]
	for len(dst) > 0 {
		c := copy(dst, rb.data[rb.readPos:min(rb.readPos+len(dst), rb.capacity)])
		rb.readPos = (rb.readPos + c) % rb.capacity
		dst = dst[c:]
	}
	rb.available -= n
	return n
}

// ReadOne pops a single sample. The bool is false when the buffer is empty.
func (rb *RingBuffer) ReadOne() (float32, bool) {
	if rb.available == 0 {
		return 0, false
	}
	s := rb.data[rb.readPos]
	rb.readPos++
	if rb.readPos == rb.capacity {
		rb.readPos = 0
	}
	rb.available--
	return s, true
}

// Peek copies the oldest samples into dst without consuming them.
func (rb *RingBuffer) Peek(dst []float32) int {
	n := min(len(dst), rb.available)
	pos := rb.readPos
	for i := range n {
		dst[i] = rb.data[pos]
		pos++
		if pos == rb.capacity {
			pos = 0
		}
	}
	return n
}

// Clear drops all buffered samples. Storage is kept.
func (rb *RingBuffer) Clear() {
	rb.readPos = 0
	rb.writePos = 0
	rb.available = 0
}

// Len returns the number of buffered samples.
func (rb *RingBuffer) Len() int { return rb.available }

// Free returns the number of samples that can be written without overwriting.
func (rb *RingBuffer) Free() int { return rb.capacity - rb.available }

// Cap returns the fixed capacity.
func (rb *RingBuffer) Cap() int { return rb.capacity }

// Empty reports whether no samples are buffered.
func (rb *RingBuffer) Empty() bool { return rb.available == 0 }

// Full reports whether the next write would overwrite.
func (rb *RingBuffer) Full() bool { return rb.available == rb.capacity }

// Level returns the fill ratio in [0, 1].
func (rb *RingBuffer) Level() float64 {
	return float64(rb.available) / float64(rb.capacity)
}
