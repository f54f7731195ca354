// Package api is the HTTP surface: the inbound email webhook, the whitelist
// verification link, and the authenticated account routes.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ignite/mailagent/internal/auth"
	"github.com/ignite/mailagent/internal/config"
)

// Server wraps the HTTP listener.
type Server struct {
	server *http.Server
}

// NewServer builds the server over the configured routes.
func NewServer(cfg config.ServerConfig, h *Handlers, verifier *auth.Verifier) *Server {
	router := SetupRoutes(h, verifier)
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			// Uploads up to the attachment ceiling need a generous window.
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 2 * time.Minute,
		},
	}
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	log.Printf("[API] Listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
