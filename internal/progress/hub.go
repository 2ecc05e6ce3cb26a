// Package progress provides WebSocket-based live progress delivery for
// running sessions.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/raie-dev/raie-server/internal/session"
)

const writeTimeout = 5 * time.Second

// Hub manages active WebSocket connections per user and fans session events
// out to them. It implements session.Notifier.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewHub creates a new progress hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a WebSocket connection for a user.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[*websocket.Conn]struct{})
	}
	h.active[userID][conn] = struct{}{}
	slog.Info("progress subscriber registered", "user_id", userID)
}

// Unregister removes a WebSocket connection for a user.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[userID]; ok {
		if _, exists := conns[conn]; exists {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.active, userID)
			}
			slog.Info("progress subscriber unregistered", "user_id", userID)
		}
	}
}

// SubscriberCount returns the number of open connections for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Notify implements session.Notifier. Events are delivered to every open
// connection of the user; a connection that cannot be written to within the
// write timeout is dropped.
func (h *Hub) Notify(userID string, event session.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal progress event", "error", err, "type", event.Type)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for conn := range h.active[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("progress write failed, dropping subscriber",
				"user_id", userID,
				"error", err)
			_ = conn.Close(websocket.StatusNormalClosure, "write failed")
			h.Unregister(userID, conn)
		}
	}
}

// Shutdown closes every registered connection. WebSocket connections are
// hijacked, so http.Server.Shutdown never closes them; the server calls this
// during graceful shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, userID)
	}
}
