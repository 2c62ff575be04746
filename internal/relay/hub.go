package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agora-run/agora/internal/telemetry"
)

// Hub manages WebSocket-connected agents and pushes envelopes to them,
// grounded on itskum47-FluxForge's control_plane/ws_hub.go MetricsHub:
// buffered register/unregister channels feeding a single-owner Run loop,
// a connection cap with reject-and-close, and async self-unregister on
// write error so a dead peer never blocks the delivery path.
type Hub struct {
	log telemetry.Logger

	maxConnections int
	mu             sync.RWMutex
	clients        map[*websocket.Conn]string // conn -> publicKey

	register   chan registration
	unregister chan *websocket.Conn
}

type registration struct {
	conn      *websocket.Conn
	publicKey string
}

// NewHub constructs a Hub with the given connection cap.
func NewHub(log telemetry.Logger, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = 500
	}
	return &Hub{
		log:            log.With("relay.hub"),
		maxConnections: maxConnections,
		clients:        make(map[*websocket.Conn]string),
		register:       make(chan registration),
		unregister:     make(chan *websocket.Conn),
	}
}

// Run owns the hub's client map for its lifetime; call it once in its own
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				h.log.Warn("connection rejected: at capacity", "max", h.maxConnections)
				continue
			}
			h.clients[reg.conn] = reg.publicKey
			h.mu.Unlock()
			h.log.Info("client registered", "publicKey", reg.publicKey, "total", h.Count())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}

// Register adds conn under publicKey. Blocks until the Run loop accepts
// it; callers should have a live ctx.
func (h *Hub) Register(conn *websocket.Conn, publicKey string) {
	h.register <- registration{conn: conn, publicKey: publicKey}
}

// Unregister removes conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsOpen reports whether publicKey currently has a live WebSocket
// connection — the relay's Send contract priority check (spec.md §4.8:
// "connected WebSocket agent in OPEN state -> push immediately").
func (h *Hub) IsOpen(publicKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, pk := range h.clients {
		if pk == publicKey {
			return true
		}
	}
	return false
}

// Push writes frame to publicKey's connection(s), if any are open.
// Returns false if no connection for publicKey was found.
func (h *Hub) Push(publicKey string, frame Frame) bool {
	h.mu.RLock()
	var targets []*websocket.Conn
	for conn, pk := range h.clients {
		if pk == publicKey {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return false
	}
	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			h.log.Warn("write failed, unregistering", "err", err)
			go h.Unregister(conn)
		}
	}
	return true
}

// ConnectedPeers returns the public keys of every currently open
// connection, deduplicated.
func (h *Hub) ConnectedPeers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool, len(h.clients))
	out := make([]string, 0, len(h.clients))
	for _, pk := range h.clients {
		if !seen[pk] {
			seen[pk] = true
			out = append(out, pk)
		}
	}
	return out
}
