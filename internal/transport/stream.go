// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"io"
	"sync"
)

// StreamTransport writes one JSON document per line to w, e.g. stdout for
// piping into jq or another process.
type StreamTransport struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewStreamTransport wraps w. If w is also an io.Closer it is closed by
// Close.
func NewStreamTransport(w io.Writer) *StreamTransport {
	st := &StreamTransport{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		st.closer = c
	}
	return st
}

func (st *StreamTransport) Send(data any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return ErrClosed
	}
	return st.enc.Encode(data)
}

func (st *StreamTransport) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	if st.closer != nil {
		return st.closer.Close()
	}
	return nil
}

var _ Transport = (*StreamTransport)(nil)
