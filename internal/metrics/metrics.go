package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/print-queue/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EntriesEnqueued  prometheus.Counter
	EntriesClaimed   prometheus.Counter
	ClaimsContested  prometheus.Counter
	EntriesRemoved   prometheus.Counter
	StoreRetries     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	StoreLatency     *prometheus.HistogramVec
	StoreErrors      *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	RateLimitRejects prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_queue_entries_enqueued_total",
			Help: "Queue entries created by enqueue; repeats of a pending subject are not counted.",
		}),
		EntriesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_queue_entries_claimed_total",
			Help: "Entries confirmed printed and removed from the queue.",
		}),
		ClaimsContested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_queue_claims_contested_total",
			Help: "Entries a confirm asked for that another terminal had already claimed.",
		}),
		EntriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_queue_entries_removed_total",
			Help: "Entries deleted by manual queue correction.",
		}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "print_queue_store_retries_total",
			Help: "Retried queue store mutations after a transient failure.",
		}, []string{"op"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "print_queue_cache_lookups_total",
			Help: "Cache lookups by outcome.",
		}, []string{"result"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "print_queue_store_seconds",
			Help:    "Latency of queue store round-trips.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "print_queue_store_errors_total",
			Help: "Failed queue store round-trips.",
		}, []string{"op"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "print_queue_depth",
			Help: "Unclaimed entries waiting to be printed, as last sampled.",
		}),
		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "print_queue_rate_limited_total",
			Help: "Mutating requests rejected by the per-address or per-actor rate limit.",
		}),
	}

	reg.MustRegister(
		m.EntriesEnqueued,
		m.EntriesClaimed,
		m.ClaimsContested,
		m.EntriesRemoved,
		m.StoreRetries,
		m.CacheLookups,
		m.StoreLatency,
		m.StoreErrors,
		m.QueueDepth,
		m.RateLimitRejects,
	)

	return m
}

// ServiceHooks returns the callbacks expected by service.Hooks.
// Centralises the prometheus observation calls so the service stays import-free.
func (m *Metrics) ServiceHooks() service.Hooks {
	return service.Hooks{
		OnEnqueued:  func(n int) { m.EntriesEnqueued.Add(float64(n)) },
		OnClaimed:   func(n int) { m.EntriesClaimed.Add(float64(n)) },
		OnContested: func(n int) { m.ClaimsContested.Add(float64(n)) },
		OnRemoved:   func(n int) { m.EntriesRemoved.Add(float64(n)) },
		OnRetry:     func(op string) { m.StoreRetries.WithLabelValues(op).Inc() },
		OnCacheLookup: func(_ string, hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			m.CacheLookups.WithLabelValues(result).Inc()
		},
	}
}

// ObserveStore records one queue store round-trip; it matches
// repository.Observer.
func (m *Metrics) ObserveStore(op string, elapsed time.Duration, err error) {
	m.StoreLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}
