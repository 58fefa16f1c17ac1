package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SearchesTotal       prometheus.Counter
	PollsTotal          prometheus.Counter
	IdempotencyHits     prometheus.Counter
	RateLimitDropsTotal *prometheus.CounterVec

	SupplierOutcomes    *prometheus.CounterVec
	SupplierLatency     *prometheus.HistogramVec
	CircuitOpen         *prometheus.GaugeVec
	BookingsTotal       *prometheus.CounterVec
	CancellationsTotal  *prometheus.CounterVec
	CancelQueueDepth    prometheus.Gauge
	DeadLettersTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	Registry            *prometheus.Registry
}

// Create Prometheus collectors and register them
func NewMetrics(p *prometheus.Registry) *Metrics {
	m := &Metrics{
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transfer_searches_total",
			Help: "Total number of search fan-outs",
		}),
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transfer_polls_total",
			Help: "Total number of poll requests on search sessions",
		}),
		IdempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transfer_idempotency_hits_total",
			Help: "Bookings answered from the idempotency cache",
		}),
		RateLimitDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_ratelimit_drops_total",
			Help: "Calls dropped due to rate limiting",
		}, []string{"scope"}),
		SupplierOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supplier_outcomes_total",
			Help: "Per supplier status of each search or poll call",
		}, []string{"supplier", "operation", "status"}),
		SupplierLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supplier_latency_seconds",
				Help:    "Latency between aggregator and supplier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"supplier", "operation"},
		),
		CircuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supplier_circuit_open",
			Help: "1 while the supplier circuit is open",
		}, []string{"supplier"}),
		BookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_bookings_total",
			Help: "Booking results by status",
		}, []string{"supplier", "status"}),
		CancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_cancellations_total",
			Help: "Cancellation attempts by path and outcome",
		}, []string{"path", "outcome"}),
		CancelQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transfer_cancel_queue_depth",
			Help: "Cancellation tasks waiting for retry",
		}),
		DeadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_cancel_dead_letters_total",
			Help: "Cancellation tasks moved to the dead-letter store",
		}, []string{"reason"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		Registry: p,
	}

	// Register metrics with Prometheus
	p.MustRegister(
		m.SearchesTotal,
		m.PollsTotal,
		m.IdempotencyHits,
		m.RateLimitDropsTotal,
		m.SupplierOutcomes,
		m.SupplierLatency,
		m.CircuitOpen,
		m.BookingsTotal,
		m.CancellationsTotal,
		m.CancelQueueDepth,
		m.DeadLettersTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
	)

	return m
}

// NewNop returns metrics registered on a throwaway registry, for tests.
func NewNop() *Metrics { return NewMetrics(prometheus.NewRegistry()) }

func (m *Metrics) IncSearches()        { m.SearchesTotal.Inc() }
func (m *Metrics) IncPolls()           { m.PollsTotal.Inc() }
func (m *Metrics) IncIdempotencyHits() { m.IdempotencyHits.Inc() }

func (m *Metrics) IncRateLimitDrops(scope string) { m.RateLimitDropsTotal.WithLabelValues(scope).Inc() }

func (m *Metrics) ObserveSupplierLatency(supplier, op string, seconds float64) {
	m.SupplierLatency.WithLabelValues(supplier, op).Observe(seconds)
}

func (m *Metrics) IncSupplierOutcome(supplier, op, status string) {
	m.SupplierOutcomes.WithLabelValues(supplier, op, status).Inc()
}

func (m *Metrics) SetCircuitOpen(supplier string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(supplier).Set(v)
}

func (m *Metrics) IncBookings(supplier, status string) {
	m.BookingsTotal.WithLabelValues(supplier, status).Inc()
}

func (m *Metrics) IncCancellations(path, outcome string) {
	m.CancellationsTotal.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) SetCancelQueueDepth(n int) { m.CancelQueueDepth.Set(float64(n)) }

func (m *Metrics) IncDeadLetters(reason string) { m.DeadLettersTotal.WithLabelValues(reason).Inc() }

func (m *Metrics) ObserveHTTPRequestDuration(method string, path string, status string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}

func (m *Metrics) IncHTTPRequestsTotal(method string, path string, status string) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
