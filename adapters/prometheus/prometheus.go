// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the event-sourcing core, the outbox and the buses.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/cqrs-go/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds Prometheus implementations for every instrumented layer.
// Use this to initialize metrics for the entire application at once.
type AllMetrics struct {
	ES     *esMetrics
	Outbox *outboxMetrics
	Bus    *busMetrics
}

// NewAllMetrics creates Prometheus metrics for every layer against one
// registerer.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:     NewESMetrics(reg).(*esMetrics),
		Outbox: NewOutboxMetrics(reg).(*outboxMetrics),
		Bus:    NewBusMetrics(reg).(*busMetrics),
	}
}
