// Package server is the boundary adapter: it accepts WebSocket
// connections, hands them to the registry and router, and serves the
// health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/studiowire/relay/internal/connection"
	"github.com/studiowire/relay/internal/registry"
	"github.com/studiowire/relay/internal/router"
)

// Config holds server configuration.
type Config struct {
	Port       int
	Connection connection.Config
}

// Server accepts connections and serves the health endpoint.
type Server struct {
	cfg      Config
	registry *registry.Registry
	router   *router.Router
	logger   *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	wg       sync.WaitGroup
}

// New creates a new Server.
func New(cfg Config, reg *registry.Registry, rt *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		registry: reg,
		router:   rt,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	return s
}

// Start begins listening. It returns when the listener stops; a clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpSrv.Addr)

	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the listener and waits for in-flight
// connection handlers.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, connections still draining")
	}

	return err
}

// handleHealth reports aggregate registry counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	broadcasters, viewers := s.registry.Counts()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status       string `json:"status"`
		Broadcasters int    `json:"broadcasters"`
		Viewers      int    `json:"viewers"`
	}{
		Status:       "ok",
		Broadcasters: broadcasters,
		Viewers:      viewers,
	})
}

// handleWS upgrades the connection and runs its read loop. Each
// connection gets one goroutine, which preserves per-source message
// ordering.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := connection.New(ws, s.cfg.Connection, s.logger)
	s.registry.Track(conn)
	s.logger.Debug("connection accepted", "remote", conn.RemoteAddr())

	s.wg.Add(1)
	go s.readLoop(conn)
}

// readLoop feeds inbound messages to the router until the transport
// closes, then performs teardown.
func (s *Server) readLoop(conn *connection.Conn) {
	defer s.wg.Done()
	defer func() {
		s.router.HandleDisconnect(conn)
		conn.Close()
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		s.router.HandleMessage(conn, data)
	}
}
