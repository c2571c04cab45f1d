package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/darbackup/internal/config"
	"github.com/BadgerOps/darbackup/internal/engine"
)

// Server is the read-only HTTP status API over the backup catalogs.
type Server struct {
	manager    *engine.BackupManager
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new Server instance.
func NewServer(mgr *engine.BackupManager, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: mgr,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /api/records", s.handleAPIRecords)
	mux.HandleFunc("GET /api/records/{ref}", s.handleAPIRecord)
	mux.HandleFunc("GET /api/definitions", s.handleAPIDefinitions)
	mux.HandleFunc("GET /api/chains", s.handleAPIChains)
	mux.HandleFunc("GET /api/chains/{definition}", s.handleAPIChain)
	mux.HandleFunc("GET /api/audit", s.handleAPIAudit)

	return mux
}
