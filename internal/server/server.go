package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// Server serves the chat protocol over WebSocket plus a small read-only
// HTTP API backed by the directory and the message store.
type Server struct {
	cfg       Config
	hub       *Hub
	core      *chat.Hub
	directory chat.Directory
	messages  chat.MessageStore
	upgrader  websocket.Upgrader
}

// New creates a Server. cfg is sanitized first.
func New(cfg Config, core *chat.Hub, directory chat.Directory, messages chat.MessageStore) *Server {
	cfg = cfg.Sanitize()
	return &Server{
		cfg:       cfg,
		hub:       NewHub(core, cfg),
		core:      core,
		directory: directory,
		messages:  messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginPolicy(cfg.AllowedOrigins).check,
		},
	}
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the connection hub, for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HTTPServer returns an http.Server for the configured port serving Routes.
func (s *Server) HTTPServer() *http.Server {
	return CreateServer(s.cfg, s.Routes())
}

// Shutdown stops accepting requests, then closes every WebSocket client
// and drains the chat core. Both steps share cfg.ShutdownTimeout.
func (s *Server) Shutdown(srv *http.Server) error {
	httpErr := ShutdownServer(srv, s.cfg.ShutdownTimeout)
	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}

// CreateServer creates an HTTP server with the timeouts from cfg.
func CreateServer(cfg Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// StartServer listens and serves until the server is shut down. A clean
// shutdown returns nil.
func StartServer(server *http.Server) error {
	l := logging.L()
	l.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// Hijacked WebSocket connections are not tracked by http.Server and are left to the Hub.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	l := logging.L()
	l.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	l.Info().Msg("HTTP server shutdown completed")
	return nil
}
