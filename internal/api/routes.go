package api

import (
	"condoragent/internal/health"
	"condoragent/internal/observability"
	"condoragent/internal/staging"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Submitter     Submitter
	Querier       Querier
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	MaxUploadSize int64
	DefaultSchedd string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Submitter, cfg.Querier, cfg.HealthChecker, cfg.MaxUploadSize, cfg.DefaultSchedd)

	r := chi.NewRouter()

	// Middleware chain (order matters: outermost first)
	r.Use(RecoveryMiddleware())
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())

	// Health check endpoints (liveness/readiness probes) - no auth required
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)

	// Scheduler endpoints - auth required
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIKey))
		r.With(ContentTypeMiddleware(staging.ContentType)).Post("/submit", handler.Submit)
		r.Get("/jobs", handler.Jobs)
	})

	return r
}
