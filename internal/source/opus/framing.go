// SPDX-License-Identifier: MIT
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize bounds a single framed packet. Opus packets never exceed
// 1275 bytes per frame and six frames per packet.
const MaxPacketSize = 1275 * 6

// PacketReader splits a byte stream of length-prefixed Opus packets: each
// packet is preceded by its size as a big-endian uint16.
type PacketReader struct {
	r   io.Reader
	hdr [2]byte
	buf []byte
}

func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r, buf: make([]byte, MaxPacketSize)}
}

// Next returns the next packet. The slice is reused by the following call.
// A clean end of stream returns io.EOF; a truncated packet returns
// io.ErrUnexpectedEOF.
func (p *PacketReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(p.r, p.hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(p.hdr[:]))
	if n == 0 || n > MaxPacketSize {
		return nil, fmt.Errorf("opus: invalid packet length %d", n)
	}
	if _, err := io.ReadFull(p.r, p.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return p.buf[:n], nil
}

// WritePacket frames one packet onto w.
func WritePacket(w io.Writer, packet []byte) error {
	if len(packet) == 0 || len(packet) > MaxPacketSize {
		return fmt.Errorf("opus: invalid packet length %d", len(packet))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(packet)
	return err
}
