package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/cqrs-go/core/bus"
	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/metrics"
)

// busMetrics implements bus.Metrics using Prometheus.
type busMetrics struct {
	executeDuration *prometheus.HistogramVec
	failures        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewBusMetrics creates a new Prometheus implementation of bus.Metrics.
func NewBusMetrics(reg prometheus.Registerer) bus.Metrics {
	m := &busMetrics{
		executeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_bus_execute_duration_seconds",
			Help:    "Handler execution latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind", "name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_bus_failures_total",
			Help: "Total number of failed executions by error code",
		}, []string{"kind", "name", "code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_bus_retries_total",
			Help: "Total number of retry attempts",
		}, []string{"kind", "name"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_bus_cache_hits_total",
			Help: "Total number of query cache hits",
		}, []string{"name"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_bus_cache_misses_total",
			Help: "Total number of query cache misses",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.executeDuration,
		m.failures,
		m.retries,
		m.cacheHits,
		m.cacheMisses,
	)

	return m
}

func (m *busMetrics) ExecuteDuration(kind bus.Kind, name string) metrics.Timer {
	return newTimer(m.executeDuration.WithLabelValues(string(kind), name))
}

func (m *busMetrics) ExecuteFailure(kind bus.Kind, name string, code es.Code) {
	m.failures.WithLabelValues(string(kind), name, string(code)).Inc()
}

func (m *busMetrics) RetryAttempt(kind bus.Kind, name string) {
	m.retries.WithLabelValues(string(kind), name).Inc()
}

func (m *busMetrics) CacheHit(name string) {
	m.cacheHits.WithLabelValues(name).Inc()
}

func (m *busMetrics) CacheMiss(name string) {
	m.cacheMisses.WithLabelValues(name).Inc()
}

var _ bus.Metrics = (*busMetrics)(nil)
