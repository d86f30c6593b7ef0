package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/cqrs-go/core/metrics"
	"github.com/codewandler/cqrs-go/core/outbox"
)

// outboxMetrics implements outbox.Metrics using Prometheus.
type outboxMetrics struct {
	publishDuration prometheus.Histogram
	published       prometheus.Counter
	failed          prometheus.Counter
	retried         prometheus.Counter
	purged          prometheus.Counter
	queueDepth      *prometheus.GaugeVec
}

// NewOutboxMetrics creates a new Prometheus implementation of outbox.Metrics.
func NewOutboxMetrics(reg prometheus.Registerer) outbox.Metrics {
	m := &outboxMetrics{
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cqrs_outbox_publish_duration_seconds",
			Help:    "Outbox publish latency in seconds",
			Buckets: defaultBuckets,
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cqrs_outbox_published_total",
			Help: "Total number of entries published",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cqrs_outbox_failed_total",
			Help: "Total number of failed publish attempts",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cqrs_outbox_retried_total",
			Help: "Total number of scheduled retries",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cqrs_outbox_purged_total",
			Help: "Total number of published entries removed by cleanup",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cqrs_outbox_queue_depth",
			Help: "Number of outbox entries per status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.publishDuration,
		m.published,
		m.failed,
		m.retried,
		m.purged,
		m.queueDepth,
	)

	return m
}

func (m *outboxMetrics) PublishDuration() metrics.Timer {
	return newTimer(m.publishDuration)
}

func (m *outboxMetrics) EntriesPublished(count int) {
	m.published.Add(float64(count))
}

func (m *outboxMetrics) EntriesFailed(count int) {
	m.failed.Add(float64(count))
}

func (m *outboxMetrics) EntriesRetried(count int) {
	m.retried.Add(float64(count))
}

func (m *outboxMetrics) EntriesPurged(count int) {
	m.purged.Add(float64(count))
}

func (m *outboxMetrics) QueueDepth(status outbox.Status, depth int) {
	m.queueDepth.WithLabelValues(string(status)).Set(float64(depth))
}

var _ outbox.Metrics = (*outboxMetrics)(nil)
