package routes

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	handlers "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/http"
	mid "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/middleware"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
)

type Options struct {
	Tenants        *tenant.Directory
	EdgeLimiter    *mid.IPRateLimiter
	RequestTimeout time.Duration
}

func GetRoutes(h *handlers.Handler, metrics *obs.Metrics, logger *slog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()
	// Useful built-in middlewares
	r.Use(middleware.RealIP)    // proper client IP extraction
	r.Use(middleware.RequestID) // sets request ID header
	r.Use(middleware.Recoverer) // built-in recoverer to avoid panics taking server down

	// our custom middlewares: metrics, logging & timeout
	r.Use(mid.MetricsMiddleware(metrics))
	r.Use(mid.LoggingMiddleware(logger))
	r.Use(mid.TimeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(mid.RateLimitMiddleware(opts.EdgeLimiter, metrics))
		r.Use(mid.TenantMiddleware(opts.Tenants))

		r.Post("/search", h.Search)
		r.Get("/search/{searchID}", h.Poll)

		r.Post("/bookings", h.Book)
		r.Patch("/bookings/{bookingID}", h.Amend)
		r.Delete("/bookings/{bookingID}", h.Cancel)
		r.Get("/bookings/{bookingID}/cancellation", h.CancelStatus)
	})

	return r
}
