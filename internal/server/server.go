// Package server provides the HTTP API for cvpost.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/cvpost/internal/config"
	"github.com/hyperjump/cvpost/internal/session"
	"github.com/hyperjump/cvpost/internal/storage"
	"go.uber.org/zap"
)

// Session is the upload session driven by the API.
type Session interface {
	Select(ctx context.Context, f session.File) (session.Snapshot, error)
	Snapshot() session.Snapshot
	Reset() error
}

// Server is the HTTP server for the cvpost API.
type Server struct {
	session Session
	storage storage.Storage
	config  *config.Config
	logger  *zap.Logger

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

// NewServer creates a server with the given dependencies. store may be nil when history is disabled.
func NewServer(sess Session, store storage.Storage, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		session: sess,
		storage: store,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/v1/upload", s.handleUpload)
	r.Get("/api/v1/session", s.handleGetSession)
	r.Delete("/api/v1/session", s.handleResetSession)
	r.Get("/api/v1/attempts", s.handleListAttempts)
	r.Get("/api/v1/attempts/{id}", s.handleGetAttempt)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("Starting server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Stop gracefully shuts down the server. A server stopped before Start never listens.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
