// Package api exposes the bot to its dashboard: typed events out over a
// WebSocket stream, a small command vocabulary in, and two plain HTTP
// endpoints (/health, /api/snapshot) for checks and one-shot state reads.
// Static dashboard assets are served from web/.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"spot-trader/internal/config"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server ties the HTTP listener, the WebSocket hub, and the engine's event
// stream together. One Server per process.
type Server struct {
	ctrl   Controller
	hub    *Hub
	srv    *http.Server
	logger *slog.Logger
}

// NewServer wires the dashboard transport around the given controller. The
// listener does not start until Start is called.
func NewServer(cfg *config.Config, ctrl Controller, logger *slog.Logger) *Server {
	hub := NewHub(logger)

	return &Server{
		ctrl: ctrl,
		hub:  hub,
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      routes(NewHandlers(ctrl, hub, logger)),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		logger: logger.With("component", "api-server"),
	}
}

// routes maps the dashboard surface. Anything outside the API paths falls
// through to the static dashboard bundle in web/.
func routes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/api/snapshot", h.HandleSnapshot)
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// Start runs the hub, the event relay, and the HTTP listener. It blocks
// until the listener stops, so callers run it on its own goroutine.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.relayEvents()

	s.logger.Info("dashboard server starting", "addr", s.srv.Addr)

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// relayEvents fans the engine's event stream out to every connected client.
// It ends when the engine closes its channel, which never happens before
// process shutdown.
func (s *Server) relayEvents() {
	for evt := range s.ctrl.Events() {
		s.hub.BroadcastEvent(evt)
	}
}
