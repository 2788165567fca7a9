package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/solos-app/sol-engine/internal/dispatch"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes dispatched notifications to connected clients over websockets.
// It implements dispatch.Delivery; a user with no open connection simply
// misses the push, the notification store still has the record.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Deliver implements dispatch.Delivery. Write failures drop the broken
// connection; delivery succeeds as long as the hub itself is healthy.
func (h *Hub) Deliver(ctx context.Context, n dispatch.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[n.UserID] {
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Warn("websocket write failed, dropping connection", "user", n.UserID, "error", err)
			conn.Close()
			delete(h.conns[n.UserID], conn)
		}
	}
	return nil
}

// HandleWS upgrades the request and registers the connection for the user
// named in the user_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.add(userID, conn)
	defer h.remove(userID, conn)

	// Drain reads until the client goes away. Notifications only flow
	// server to client.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "user", userID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Hub) remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	conn.Close()
}
