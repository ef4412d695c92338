package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from this same process on localhost.
		return true
	},
}

// Handlers carries the dependencies shared by the dashboard's HTTP entry
// points.
type Handlers struct {
	ctrl   Controller
	hub    *Hub
	logger *slog.Logger
}

func NewHandlers(ctrl Controller, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		ctrl:   ctrl,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth answers liveness probes with the process state and the
// engine's lifecycle status.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, struct {
		Status    string `json:"status"`
		BotStatus string `json:"botStatus"`
	}{
		Status:    "ok",
		BotStatus: string(h.ctrl.Status()),
	})
}

// HandleSnapshot serves the engine's composite state as one document, the
// REST twin of the initial_state frame new WebSocket clients receive.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.ctrl.Snapshot())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// HandleWebSocket upgrades the connection, hands it to the hub, and queues
// the initial composite state as the first outbound frame.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.ctrl)

	data, err := json.Marshal(NewInitialStateEvent(h.ctrl.Snapshot()))
	if err != nil {
		h.logger.Error("failed to marshal initial state", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial state to client")
	}
}
