// Package http provides the guard's optional HTTP front door: intent
// evaluation, audit queries, rollback, and health/metrics endpoints.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"actionguard/internal/guard"
)

// Router wraps chi.Router with the guard endpoints configured.
type Router struct {
	*chi.Mux
	logger *zap.Logger
	guard  *guard.Guard
}

// RouterConfig holds configuration for creating a router.
type RouterConfig struct {
	Logger *zap.Logger
	Guard  *guard.Guard
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		Mux:    chi.NewRouter(),
		logger: cfg.Logger,
		guard:  cfg.Guard,
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health and metrics endpoints (no auth)
	r.Get("/healthz", r.handleHealthz)
	r.Get("/readyz", r.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		cfg.Guard.MetricsRegistry(), promhttp.HandlerOpts{}))

	// API v1
	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/evaluate", r.handleEvaluate)
		v1.Post("/explain", r.handleExplain)
		v1.Get("/audit", r.handleAuditQuery)
		v1.Get("/metrics", r.handleGuardMetrics)
		v1.Route("/rollback", func(rb chi.Router) {
			rb.Post("/action/{action_id}", r.handleRollbackAction)
			rb.Post("/task/{task_id}", r.handleRollbackTask)
		})
	})

	return r
}

// RequestLogger returns a middleware that logs requests.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
