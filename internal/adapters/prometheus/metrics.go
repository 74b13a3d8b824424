// Package prometheus exposes service and HTTP metrics for scraping.
package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mltrackr"

// Metrics owns a private registry so tests and multiple servers never collide
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiments",
			Name:      "operations_total",
			Help:      "Experiment service calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		opLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "experiments",
			Name:      "operation_duration_seconds",
			Help:      "Experiment service call latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"operation"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		reqLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordOperation counts one service call. It satisfies ports.MetricsExporter.
func (m *Metrics) RecordOperation(ctx context.Context, op, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Close is a no-op; scraped metrics have nothing to flush.
func (m *Metrics) Close(ctx context.Context) error {
	return nil
}

// ObserveRequest records one served HTTP request. route is the mux pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.reqLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
