// Package server provides the HTTP API for the umekomi embedding service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/config"
	"github.com/hyperjump/umekomi/internal/dispatch"
)

// Inferencer runs one embedding inference. Satisfied by *dispatch.Manager.
type Inferencer interface {
	SendInference(ctx context.Context, modelPath string, tokens []int64, opts ...dispatch.InferOption) ([]float32, error)
}

// Server is the HTTP server for the umekomi API.
type Server struct {
	dispatcher Inferencer
	cache      *lru.Cache[string, []float32]
	config     *config.ServerConfig
	modelPath   string
	outputName  string
	libraryPath string
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(dispatcher Inferencer, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	cacheSize := cfg.Embedding.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Server{
		dispatcher: dispatcher,
		cache:      cache,
		config:     &cfg.Server,
		modelPath:   cfg.Embedding.ModelPath,
		outputName:  cfg.Embedding.OutputName,
		libraryPath: cfg.Embedding.LibraryPath,
		logger:      logger,
	}, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/embed", s.handleEmbed)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
