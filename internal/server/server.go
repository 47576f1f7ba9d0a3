// Package server provides the HTTP API for iris.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/iris/internal/assistant"
	"github.com/hyperjump/iris/internal/config"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/hyperjump/iris/internal/ledger"
	"github.com/hyperjump/iris/internal/vector"
	"go.uber.org/zap"
)

// WatchService manages inbox directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the iris API.
type Server struct {
	assistant *assistant.Service
	indexer   *indexer.Indexer
	ledger    *ledger.Ledger
	vectors   vector.Index
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	watch      WatchService // nil when no inbox is configured
	configPath string       // watch directory changes are saved here when set
	configMu   sync.Mutex
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	svc *assistant.Service,
	idx *indexer.Indexer,
	l *ledger.Ledger,
	vectors vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		assistant:  svc,
		indexer:    idx,
		ledger:     l,
		vectors:    vectors,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Generation routes are bounded by the gateway's own per-call timeouts.
	r.Post("/describe", s.handleDescribe)
	r.Post("/reason", s.handleReason)
	r.Get("/llm/health", s.handleLLMHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Post("/extract", s.handleExtract)
		r.Get("/extractions", s.handleListExtractions)
		r.Delete("/extractions/{id}", s.handleDeleteExtraction)
		r.Post("/search", s.handleSearch)
		r.Post("/reason/end", s.handleEndSession)
		r.Get("/reason/sessions", s.handleListSessions)
		r.Get("/reason/sessions/{id}", s.handleGetSession)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
