package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eloity-labs/reward-engine/internal/admin"
	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/limiter"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/eloity-labs/reward-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, st *store.Store, calc *reward.Calculator, lim *limiter.Limiter, adm *admin.Administrator, version string) *Server {
	handler := NewHandler(repo, cache, st, calc, lim, adm, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Earning side: calculation previews, awards, quota queries.
	router.Post("/calculate", handler.Calculate)
	router.Post("/award", handler.Award)
	router.Get("/limits/{userID}/{actionType}", handler.Limits)

	// Rule reads
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/applicable", handler.ListApplicableRules)
	router.Get("/rules/{actionType}", handler.GetRule)

	// Rule mutations (actor required for the audit trail)
	router.With(ActorMiddleware).Post("/rules", handler.CreateRule)
	router.With(ActorMiddleware).Patch("/rules/{id}", handler.UpdateRule)
	router.With(ActorMiddleware).Delete("/rules/{id}", handler.DeactivateRule)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
