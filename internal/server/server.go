package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server serves an App over HTTP.
type Server struct {
	app    *App
	server *http.Server
}

// NewServer creates a server for app listening on addr.
func NewServer(app *App, addr string) *Server {
	return &Server{
		app: app,
		server: &http.Server{
			Addr:              addr,
			Handler:           app.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      app.opts.RequestTimeout + 5*time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting fraud scoring server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fraud scoring server: %w", err)
	}
	return nil
}

// Shutdown disconnects websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Close()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown fraud scoring server")
		return err
	}
	log.Info().Msg("Fraud scoring server stopped")
	return nil
}
