// Package admin exposes the control API: proxy lifecycle, mock management,
// request history, runtime settings, and the live event stream.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/manager"
)

// DefaultPort is the control API port when the config leaves it unset.
const DefaultPort = 4000

// Server is the control API server.
type Server struct {
	mgr  *manager.Manager
	log  *slog.Logger
	mux  *http.ServeMux
	port int

	srv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates the control API server over a manager.
func New(port int, mgr *manager.Manager, opts ...Option) *Server {
	if port <= 0 {
		port = DefaultPort
	}
	s := &Server{
		mgr:  mgr,
		log:  logging.Nop(),
		mux:  http.NewServeMux(),
		port: port,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds the control port and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("admin api started", "port", s.port)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api serve error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the control API down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
