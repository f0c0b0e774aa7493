// Package api serves the reconciliation HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mybillbook/reconciler/internal/api/handlers"
	"github.com/mybillbook/reconciler/internal/api/middleware"
	"github.com/mybillbook/reconciler/internal/application/intake"
	"github.com/mybillbook/reconciler/internal/application/reconcile"
	"github.com/mybillbook/reconciler/internal/application/report"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
	MetricsEnabled bool
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		MetricsEnabled: true,
	}
}

// Services are the application services the handlers delegate to.
type Services struct {
	Intake    *intake.Service
	Reconcile *reconcile.Service
	Report    *report.Service
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	services   Services
}

// NewServer creates a new API server.
func NewServer(cfg Config, services Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)

	// CORS
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.config.AllowedOrigins
	s.router.Use(middleware.CORS(corsConfig))

	// Request logging
	s.router.Use(middleware.Logging(s.logger))

	if s.config.MetricsEnabled {
		s.router.Use(middleware.Metrics)
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		// Users
		authHandler := handlers.NewAuthHandler(s.services.Intake, s.logger)
		r.Post("/auth/login", authHandler.Login)
		r.Get("/auth/user/{userId}", authHandler.GetUser)

		// Invoices and payments
		ledgerHandler := handlers.NewLedgerHandler(s.services.Intake, s.logger)
		r.Post("/invoices/upload", ledgerHandler.UploadInvoices)
		r.Get("/invoices", ledgerHandler.ListInvoices)
		r.Post("/payments/upload", ledgerHandler.UploadPayments)
		r.Get("/payments", ledgerHandler.ListPayments)

		// Matching and settlement
		recHandler := handlers.NewReconciliationHandler(s.services.Reconcile, s.logger)
		runsHandler := handlers.NewRunsHandler(s.services.Reconcile, s.logger)
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/run", recHandler.Run)
			r.Get("/suggestions", recHandler.Suggestions)
			r.Post("/confirm/{id}", recHandler.Confirm)
			r.Post("/reject/{id}", recHandler.Reject)
			r.Post("/bulk-confirm", recHandler.BulkConfirm)
			r.Post("/bulk-confirm-high-confidence", recHandler.BulkConfirmHighConfidence)
			r.Get("/runs", runsHandler.List)
			r.Get("/runs/{runId}", runsHandler.Get)
			r.Get("/payments/{paymentId}/calls", runsHandler.PaymentCalls)
		})

		// Reports
		reportsHandler := handlers.NewReportsHandler(s.services.Report, s.logger)
		r.Get("/reports/summary", reportsHandler.Summary)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// A pass waits on one matcher call per payment.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
