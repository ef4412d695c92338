package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spot-trader/pkg/types"
)

// Inbound command vocabulary.
const (
	CmdStartBot   = "START_BOT"
	CmdStopBot    = "STOP_BOT"
	CmdKillSwitch = "KILL_SWITCH"
)

// inboundMessage is the shape of every frame a client may send: either a
// bare command or a full settings payload.
type inboundMessage struct {
	Type    string          `json:"type"` // "command" or "settings"
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub owns the set of connected dashboard clients and fans broadcast frames
// out to them. All membership changes go through its channels; the mutex
// only guards the map for outside readers.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

// Client is one dashboard connection: a websocket, its buffered outbound
// queue, and the controller its inbound frames act on.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	ctrl Controller
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "hub"),
	}
}

// Run is the hub's event loop; callers start it on its own goroutine. It is
// the only writer of the client set.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", len(h.clients))

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// A full send queue means the client stopped
					// reading; closing it beats stalling or reordering
					// the stream for everyone else.
					h.dropLocked(client)
					h.logger.Warn("dropping slow client", "clients", len(h.clients))
				}
			}
			h.mu.Unlock()
		}
	}
}

// dropLocked removes a client and closes its queue, which ends its
// writePump. Safe to call for a client that is already gone.
func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// BroadcastEvent marshals an event once and queues it for every client.
func (h *Hub) BroadcastEvent(evt Event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("event marshal failed", "error", err)
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", evt.Type)
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // inbound frames are short command/settings JSON
)

// write sends one websocket frame under the write deadline.
func (c *Client) write(messageType int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// writePump drains the client's send queue onto the connection and keeps
// the connection alive with pings. It exits when the queue closes or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// Hub dropped us; say goodbye.
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps inbound frames from the websocket connection into engine
// calls until the client disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage demultiplexes one inbound frame into the matching engine
// call. Unknown types and commands are logged and ignored; the transport
// itself does no domain logic.
func (c *Client) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("malformed client message", "error", err)
		return
	}

	switch msg.Type {
	case "command":
		switch msg.Command {
		case CmdStartBot:
			if err := c.ctrl.Start(); err != nil {
				c.hub.logger.Warn("start rejected", "error", err)
			}
		case CmdStopBot:
			c.ctrl.Stop(false)
		case CmdKillSwitch:
			c.ctrl.Stop(true)
		default:
			c.hub.logger.Warn("unknown command", "command", msg.Command)
		}

	case "settings":
		var s types.Settings
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			c.hub.logger.Warn("malformed settings payload", "error", err)
			return
		}
		if err := c.ctrl.UpdateSettings(s); err != nil {
			c.hub.logger.Warn("settings rejected", "error", err)
		}

	default:
		c.hub.logger.Warn("unknown message type", "type", msg.Type)
	}
}

// NewClient registers a new connection with the hub and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, ctrl Controller) *Client {
	client := &Client{
		hub:  hub,
		conn: conn,
		ctrl: ctrl,
		send: make(chan []byte, 256),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
