package outbox

import "github.com/codewandler/cqrs-go/core/metrics"

// Metrics is the instrumentation surface of the outbox processor.
type Metrics interface {
	PublishDuration() metrics.Timer
	EntriesPublished(count int)
	EntriesFailed(count int)
	EntriesRetried(count int)
	EntriesPurged(count int)
	QueueDepth(status Status, depth int)
}

type nopMetrics struct{}

func (nopMetrics) PublishDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EntriesPublished(int)           {}
func (nopMetrics) EntriesFailed(int)              {}
func (nopMetrics) EntriesRetried(int)             {}
func (nopMetrics) EntriesPurged(int)              {}
func (nopMetrics) QueueDepth(Status, int)         {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
