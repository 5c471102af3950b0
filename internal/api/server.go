package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/refvalues"
	"github.com/camal-digital/tarifario/internal/tariff"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *tariff.Engine, resolver *tariff.Resolver, refs *refvalues.Store, exprs *conditions.ExpressionEvaluator, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, resolver, refs, exprs, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Tariff calculation
		r.Post("/calculate", handler.Calculate)
		r.Get("/calculations/{id}", handler.GetCalculation)

		// Rate management
		r.Get("/rates", handler.ListRates)
		r.Get("/rates/{id}", handler.GetRate)
		r.Post("/rates", handler.CreateRate)
		r.Post("/rates/validate", handler.ValidateRate)
		r.Post("/rates/test-formula", handler.TestFormula)
		r.Post("/rates/reload", handler.ReloadRates)
		r.Put("/rates/{id}/status", handler.UpdateRateStatus)

		// Reference values
		r.Get("/reference-values/{code}", handler.GetReferenceValue)
		r.Put("/reference-values/{code}", handler.UpdateReferenceValue)
		r.Get("/reference-values/{code}/history", handler.GetReferenceValueHistory)

		// Audit log
		r.Get("/audit-events", handler.ListAuditEvents)
	})

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
