package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// inbound is the envelope clients send. session:reconnect is an alias for
// session:join kept for older frontends.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Viewer    bool   `json:"viewer,omitempty"`
	QueueID   string `json:"queueId,omitempty"`
}

// Handler upgrades HTTP connections and feeds messages into the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, allowedOrigin string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.New().String()[:8], conn: conn}

	if h.hub.metrics != nil {
		h.hub.metrics.WSConnections.Inc()
	}
	defer func() {
		if h.hub.metrics != nil {
			h.hub.metrics.WSConnections.Dec()
		}
		h.hub.Disconnect(c)
		conn.Close()
	}()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "session:join", "session:reconnect":
			h.hub.Join(c, msg.SessionID, msg.Viewer)
		case "queue:join":
			h.hub.JoinQueue(c, msg.QueueID)
		default:
			h.hub.emit(c, "session:error", fields{"error": "unknown message type"})
		}
	}
}
