// Package liveevents broadcasts discovery and playlist state changes to
// connected developer tools over WebSocket. It is observability tooling
// only; the control surfaces remain the SOAP actions and the stream
// proxy's HTTP listener.
package liveevents

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is one broadcast message.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// client wraps one WebSocket subscriber. Each client has a bounded send
// queue; a subscriber that stops reading is dropped rather than allowed
// to block the broadcaster.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans Event values out to every connected subscriber.
type Hub struct {
	log          zerolog.Logger
	pingInterval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub builds a Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:          log.With().Str("subsystem", "liveevents").Logger(),
		pingInterval: 30 * time.Second,
		clients:      make(map[*client]struct{}),
	}
}

// Attach registers conn as a subscriber and services it until it
// disconnects or the hub closes.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Event, 32)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Int("clients", n).Msg("subscriber connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast sends evt to every subscriber, dropping any whose send queue
// is full.
func (h *Hub) Broadcast(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			h.log.Warn().Str("kind", evt.Kind).Msg("subscriber too slow, dropping")
			h.removeLocked(c)
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber. The hub accepts no new connections
// afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked drops one client. Caller must hold h.mu. Closing the send
// channel makes the client's writeLoop exit and close the socket.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop drains inbound frames so pings/pongs and close handshakes are
// processed; subscribers have nothing meaningful to say to the hub.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
