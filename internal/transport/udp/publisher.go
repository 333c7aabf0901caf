// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"lipsync/internal/analysis"
	"lipsync/internal/events"
	applog "lipsync/internal/log"
	"lipsync/internal/transport"
)

// PacketSender is the socket side of the publisher; *UDPSender in
// production.
type PacketSender interface {
	Send(data []byte) error
}

/*
Packet is the wire form of one viseme frame, BigEndian, no padding.

|<-- 4 -->|<--- 8 --->|<--- 8 --->|<--- 8 --->|<1>|<1>|<-- 4 -->|<-- 4 -->|<-- 3 x 4 -->|<-- 5 x 4 -->|
+---------+-----------+-----------+-----------+---+---+---------+---------+-------------+-------------+
|   Seq   | Timestamp | Frame time| Frame no. | V | C |Intensity|Confidence| Open/W/Round|    Bands    |
| uint32  |  int64 ns | float64 ms|  uint64   |u8 |u8 | float32 | float32 |  3 float32  |  5 float32  |
+---------+-----------+-----------+-----------+---+---+---------+---------+-------------+-------------+

V is the fine viseme index, C the coarse index. Bands run sub, low, mid,
high, very high.
*/
type Packet struct {
	Sequence   uint32
	Timestamp  int64
	FrameTime  float64
	Frame      uint64
	Viseme     uint8
	Coarse     uint8
	Intensity  float32
	Confidence float32
	Shape      [3]float32
	Bands      [5]float32
}

// PacketSize is the encoded length of a Packet.
var PacketSize = binary.Size(Packet{})

// NewPacket packs a frame. Sequence and Timestamp are left to the caller.
func NewPacket(f analysis.Frame) Packet {
	return Packet{
		FrameTime:  f.TimeMs,
		Frame:      f.Count,
		Viseme:     uint8(f.Viseme),
		Coarse:     uint8(f.Coarse),
		Intensity:  float32(f.Intensity),
		Confidence: float32(f.Confidence),
		Shape:      [3]float32{float32(f.Shape.Open), float32(f.Shape.Width), float32(f.Shape.Round)},
		Bands: [5]float32{
			float32(f.Bands.Sub), float32(f.Bands.Low), float32(f.Bands.Mid),
			float32(f.Bands.High), float32(f.Bands.VeryHigh),
		},
	}
}

// DecodePacket parses one datagram.
func DecodePacket(b []byte) (Packet, error) {
	var p Packet
	if len(b) != PacketSize {
		return p, fmt.Errorf("packet is %d bytes, want %d", len(b), PacketSize)
	}
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, &p); err != nil {
		return p, fmt.Errorf("failed to decode packet: %w", err)
	}
	if analysis.Viseme(p.Viseme) >= analysis.Viseme(len(analysis.Visemes())) {
		return p, fmt.Errorf("packet carries unknown viseme %d", p.Viseme)
	}
	return p, nil
}

// UDPPublisher sends the most recent viseme frame at a fixed rate. Frames
// arrive through Send; a frame is published at most once, and frames that
// arrive between two ticks collapse into the latest.
type UDPPublisher struct {
	sender   PacketSender
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	frameMu sync.Mutex
	latest  analysis.Frame
	pending bool

	sequenceNum  uint32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 16ms
// (~60Hz).
func NewUDPPublisher(interval time.Duration, sender PacketSender) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s, Packet: %d bytes)", interval, PacketSize)
	return &UDPPublisher{
		sender:       sender,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, PacketSize)),
	}, nil
}

// Send accepts a viseme frame as an events.Envelope, events.Viseme or
// analysis.Frame. Anything else is ignored.
func (p *UDPPublisher) Send(data any) error {
	var f analysis.Frame
	switch v := data.(type) {
	case events.Envelope:
		ev, ok := v.Data.(events.Viseme)
		if !ok {
			return nil
		}
		f = ev.Frame
	case events.Viseme:
		f = v.Frame
	case analysis.Frame:
		f = v
	default:
		return nil
	}
	p.frameMu.Lock()
	p.latest = f
	p.pending = true
	p.frameMu.Unlock()
	return nil
}

// Start begins the periodic publishing process. Subsequent calls are no-ops
// while running.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture local variables for the goroutine to avoid data races on p.ticker/p.doneChan
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop multiple times.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Publisher goroutine finished.")
	return nil
}

// publish sends the pending frame, if any.
func (p *UDPPublisher) publish() {
	p.frameMu.Lock()
	if !p.pending {
		p.frameMu.Unlock()
		return
	}
	pkt := NewPacket(p.latest)
	p.pending = false
	p.frameMu.Unlock()

	p.sequenceNum++
	pkt.Sequence = p.sequenceNum
	pkt.Timestamp = time.Now().UnixNano()

	p.packetBuffer.Reset()
	if err := binary.Write(p.packetBuffer, binary.BigEndian, &pkt); err != nil {
		applog.Errorf("UDPPublisher: Error packing frame: %v", err)
		return
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		return
	}
	applog.Debugf("UDPPublisher: Sent packet %d (%s)", pkt.Sequence, analysis.Viseme(pkt.Viseme))
}

// Close stops the publisher. The sender is left open.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ transport.Transport = (*UDPPublisher)(nil)
