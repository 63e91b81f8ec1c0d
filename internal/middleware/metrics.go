package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for HTTP traffic and tool runs.
// It satisfies the run service's Observer.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestsInProgress prometheus.Gauge
	RequestDuration    *prometheus.HistogramVec

	RunsTotal   *prometheus.CounterVec
	RunsRunning *prometheus.GaugeVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on a private registry, together
// with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustinn_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		RequestsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trustinn_http_requests_in_progress",
			Help: "HTTP requests currently being served",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustinn_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustinn_runs_total",
			Help: "Finished tool runs by tool and status",
		}, []string{"tool", "status"}),
		RunsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustinn_runs_running",
			Help: "Tool runs currently in progress",
		}, []string{"tool"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustinn_run_duration_seconds",
			Help:    "Wall time of tool runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"tool"}),
	}
	m.registry.MustRegister(
		m.RequestsTotal, m.RequestsInProgress, m.RequestDuration,
		m.RunsTotal, m.RunsRunning, m.RunDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RunStarted implements the run Observer.
func (m *Metrics) RunStarted(tool string) {
	m.RunsRunning.WithLabelValues(tool).Inc()
}

// RunFinished implements the run Observer.
func (m *Metrics) RunFinished(tool, status string, d time.Duration) {
	m.RunsRunning.WithLabelValues(tool).Dec()
	m.RunsTotal.WithLabelValues(tool, status).Inc()
	m.RunDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Middleware tracks request metrics. Routes are labelled by their chi
// pattern so tenant and run ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInProgress.Inc()
		defer m.RequestsInProgress.Dec()

		wrapped := wrap(w)
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
