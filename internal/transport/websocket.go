// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	applog "lipsync/internal/log"
)

const (
	writeWait      = 2 * time.Second
	broadcastDepth = 256
	maxMessageSize = 1 << 20
)

var ErrClosed = errors.New("transport closed")

// CommandHandler receives control messages read from clients.
type CommandHandler func(Command) error

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

type errorReply struct {
	Event string `json:"event"`
	Data  struct {
		Command string `json:"command"`
		Message string `json:"message"`
	} `json:"data"`
}

// WebSocketTransport broadcasts events to every connected client and feeds
// their control messages to a CommandHandler. It is an http.Handler; mount
// it wherever the server wants it.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	handler   CommandHandler
	clients   map[*wsClient]struct{}
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

// NewWebSocketTransport starts the broadcast loop. handler may be nil, in
// which case client messages are read and discarded.
func NewWebSocketTransport(handler CommandHandler) *WebSocketTransport {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		handler:   handler,
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan any, broadcastDepth),
		done:      make(chan struct{}),
	}
	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the connection and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-wst.done:
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	c := &wsClient{conn: conn}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[c] = struct{}{}
	n := len(wst.clients)
	wst.wg.Add(1)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected from %s, total: %d", r.RemoteAddr, n)

	go wst.readLoop(c)
}

// readLoop applies client commands until the connection drops.
func (wst *WebSocketTransport) readLoop(c *wsClient) {
	defer wst.wg.Done()
	defer wst.drop(c)
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, net.ErrClosed) {
				applog.Debugf("WebSocketTransport: Read error: %v", err)
			}
			return
		}
		if wst.handler == nil {
			continue
		}
		if err := wst.handler(cmd); err != nil {
			applog.Warnf("WebSocketTransport: Command %q failed: %v", cmd.Type, err)
			var reply errorReply
			reply.Event = "error"
			reply.Data.Command = cmd.Type
			reply.Data.Message = err.Error()
			if err := c.writeJSON(reply); err != nil {
				return
			}
		}
	}
}

func (wst *WebSocketTransport) drop(c *wsClient) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[c]
	delete(wst.clients, c)
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	c.conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", n)
	}
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			targets := make([]*wsClient, 0, len(wst.clients))
			for c := range wst.clients {
				targets = append(targets, c)
			}
			wst.clientsMu.Unlock()

			for _, c := range targets {
				if err := c.writeJSON(data); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
					wst.drop(c)
				}
			}
		}
	}
}

// Send queues data for broadcast. A full queue drops the message.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Clients reports the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped reports messages discarded because the queue was full.
func (wst *WebSocketTransport) Dropped() uint64 {
	return wst.dropped.Load()
}

// Close disconnects every client and waits for the transport's goroutines.
func (wst *WebSocketTransport) Close() error {
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing")
		close(wst.done)

		wst.clientsMu.Lock()
		for c := range wst.clients {
			c.writeMu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			c.writeMu.Unlock()
			c.conn.Close()
		}
		wst.clientsMu.Unlock()
	})
	wst.wg.Wait()
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
