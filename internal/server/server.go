// Package server provides the HTTP API for the embedding service.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/metrics"
	"github.com/hyperjump/embedserver/internal/pipeline"
	"github.com/hyperjump/embedserver/internal/registry"
)

// Embedder is the part of the pipeline the HTTP layer needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, model string) (*pipeline.BatchResult, error)
	Models() []registry.Info
}

// Server is the HTTP server for the embedding API.
type Server struct {
	embedder Embedder
	metrics  *metrics.Metrics
	config   *config.ServerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil to disable /metrics.
func NewServer(embedder Embedder, m *metrics.Metrics, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		embedder: embedder,
		metrics:  m,
		config:   cfg,
		logger:   logger.With(zap.String("component", "server")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	timeout := time.Duration(s.config.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Post("/embed", s.handleEmbed)
	r.Get("/models", s.handleModels)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("Starting server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

