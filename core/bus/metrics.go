package bus

import (
	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/metrics"
)

// Kind distinguishes command from query dispatch in instrumentation.
type Kind string

const (
	KindCommand Kind = "command"
	KindQuery   Kind = "query"
)

// Metrics is the instrumentation surface of both buses.
type Metrics interface {
	ExecuteDuration(kind Kind, name string) metrics.Timer
	ExecuteFailure(kind Kind, name string, code es.Code)
	RetryAttempt(kind Kind, name string)
	CacheHit(name string)
	CacheMiss(name string)
}

type nopMetrics struct{}

func (nopMetrics) ExecuteDuration(Kind, string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) ExecuteFailure(Kind, string, es.Code)       {}
func (nopMetrics) RetryAttempt(Kind, string)                  {}
func (nopMetrics) CacheHit(string)                            {}
func (nopMetrics) CacheMiss(string)                           {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
