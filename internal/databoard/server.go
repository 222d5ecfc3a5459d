package databoard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/fieldline-io/fieldline-core/internal/infrastructure/config"
)

// gracefulShutdownTimeout caps how long Stop waits for in-flight
// connections to finish.
const gracefulShutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Dashboards connect from arbitrary origins on the LAN.
		return true
	},
}

// Server exposes the live dashboard feed over WebSocket.
type Server struct {
	cfg    config.DataboardSinkConfig
	hub    *Hub
	logger Logger
	server *http.Server
}

// NewServer builds the HTTP server around an existing hub.
func NewServer(cfg config.DataboardSinkConfig, hub *Hub, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{cfg: cfg, hub: hub, logger: logger}
}

// Start begins listening. It returns once the listener is running; the
// serve loop reports fatal errors through the returned channel.
func (s *Server) Start() <-chan error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.cfg.Path, s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("databoard listening", "addr", s.server.Addr, "path", s.cfg.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop shuts the listener down and disconnects all clients.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.hub.closeAll()
	if err != nil {
		return fmt.Errorf("databoard: shutdown: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the connection and starts the client pumps.
// New clients have no subscriptions; they must send a subscribe message
// before they receive events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("databoard upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:            s.hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		patterns:       make(map[string]struct{}),
		maxMessageSize: int64(s.cfg.MaxMessageSize),
		pingInterval:   time.Duration(s.cfg.PingInterval) * time.Second,
		pongTimeout:    time.Duration(s.cfg.PongTimeout) * time.Second,
	}
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}
