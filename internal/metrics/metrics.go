// Package metrics exposes Prometheus metrics for quota fetching and the
// local status server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/ttlcache"
)

// Fetch outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Quota fetch metrics
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FetchesInFlight *prometheus.GaugeVec

	// Quota state
	QuotaRemaining *prometheus.GaugeVec
	BreakerState   *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpamc_quota_fetches_total",
				Help: "Total number of quota fetches by outcome",
			},
			[]string{"family", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cpamc_quota_fetch_duration_seconds",
				Help:    "Quota fetch latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"family"},
		),
		FetchesInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpamc_quota_fetches_in_flight",
				Help: "Number of quota fetches currently running",
			},
			[]string{"family"},
		),
		QuotaRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpamc_quota_remaining_percent",
				Help: "Last known remaining quota per bucket",
			},
			[]string{"family", "account", "bucket"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpamc_provider_breaker_state",
				Help: "Circuit breaker state per family (0 closed, 1 half-open, 2 open)",
			},
			[]string{"family"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpamc_http_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cpamc_http_request_duration_seconds",
				Help:    "Status server request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FetchStarted implements quota.Observer.
func (m *Metrics) FetchStarted(family quota.Family) {
	m.FetchesInFlight.WithLabelValues(string(family)).Inc()
}

// FetchFinished implements quota.Observer.
func (m *Metrics) FetchFinished(family quota.Family, elapsed time.Duration, err error, applied bool) {
	f := string(family)
	m.FetchesInFlight.WithLabelValues(f).Dec()
	m.FetchDuration.WithLabelValues(f).Observe(elapsed.Seconds())

	outcome := OutcomeSuccess
	switch {
	case !applied:
		outcome = OutcomeDiscarded
	case err != nil:
		outcome = OutcomeError
	}
	m.FetchesTotal.WithLabelValues(f, outcome).Inc()
}

// SetRemaining records the latest remaining percentage of a bucket.
func (m *Metrics) SetRemaining(family, account, bucket string, remaining float64) {
	m.QuotaRemaining.WithLabelValues(family, account, bucket).Set(remaining)
}

// ResetRemaining drops every per-bucket gauge, e.g. after the account set changed.
func (m *Metrics) ResetRemaining() {
	m.QuotaRemaining.Reset()
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(family string, state int) {
	m.BreakerState.WithLabelValues(family).Set(float64(state))
}

// RegisterCache exposes the hit, miss and expiry counts of a TTL cache.
func (m *Metrics) RegisterCache(name string, c *ttlcache.Cache) {
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "cpamc_cache_hits_total",
			Help:        "TTL cache hits",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "cpamc_cache_misses_total",
			Help:        "TTL cache misses, including expired entries",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "cpamc_cache_expired_total",
			Help:        "TTL cache entries evicted on read",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Expired) }),
	)
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics.
func (m *Metrics) GinHandler() gin.HandlerFunc {
	h := m.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware is a Gin middleware for collecting HTTP metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
