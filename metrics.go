package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	githubRequests      *prometheus.CounterVec
	githubDuration      *prometheus.HistogramVec
	tokensMinted        prometheus.Counter
	scanCache           *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		githubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghgateway_github_requests_total",
			Help: "GitHub API requests by route and response status.",
		}, []string{"method", "route", "status"}),
		githubDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghgateway_github_request_duration_seconds",
			Help:    "GitHub API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		tokensMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghgateway_installation_tokens_minted_total",
			Help: "Installation access tokens exchanged with GitHub.",
		}),
		scanCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghgateway_scan_cache_total",
			Help: "Scan cache lookups by scanner and result (hit, miss, stale).",
		}, []string{"scanner", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghgateway_webhook_events_total",
			Help: "Verified webhook deliveries by event type.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghgateway_http_requests_total",
			Help: "HTTP requests served by route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghgateway_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ghgateway_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}

	m.registry.MustRegister(
		m.githubRequests, m.githubDuration, m.tokensMinted, m.scanCache,
		m.webhookEvents, m.httpRequests, m.httpRequestDuration, m.httpInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeGitHubRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.githubRequests.WithLabelValues(method, route, status).Inc()
	m.githubDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) tokenMinted() {
	if m == nil {
		return
	}
	m.tokensMinted.Inc()
}

func (m *Metrics) scanCacheResult(scanner, result string) {
	if m == nil {
		return
	}
	m.scanCache.WithLabelValues(scanner, result).Inc()
}

func (m *Metrics) webhookEvent(event string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event).Inc()
}

// Instrument records request count, latency and in-flight requests. The route
// label is chi's route pattern so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter remembers the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
