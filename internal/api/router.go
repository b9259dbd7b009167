package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/api/handler"
	apimw "github.com/ricirt/print-queue/internal/api/middleware"
	"github.com/ricirt/print-queue/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
// limiter guards the mutating routes; onRateLimited may be nil.
func NewRouter(
	svc *service.QueueService,
	limiter apimw.Limiter,
	onRateLimited func(),
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.RequestContext)     // X-Correlation-ID / X-Actor-ID into ctx
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	qh := handler.NewQueueHandler(svc, logger)
	bh := handler.NewBatchHandler(svc, logger)
	hh := handler.NewHealthHandler(svc, logger)

	limited := apimw.RateLimit(limiter, onRateLimited, logger)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1/queue", func(r chi.Router) {
		r.Get("/", qh.List)
		r.Get("/status", qh.Status)
		r.Get("/batch", bh.Next)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/", qh.Add)
			r.Delete("/", qh.Remove)
			r.Post("/batch/confirm", bh.Confirm)
		})
	})

	return r
}
