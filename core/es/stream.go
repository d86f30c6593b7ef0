package es

import (
	"context"
	"time"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultBatchSize    = 256
)

type SubscribeOpts struct {
	query        Query
	startSeq     uint64
	pollInterval time.Duration
	batchSize    int
}

func (s *SubscribeOpts) Query() Query                { return s.query }
func (s *SubscribeOpts) StartSeq() uint64            { return s.startSeq }
func (s *SubscribeOpts) PollInterval() time.Duration { return s.pollInterval }
func (s *SubscribeOpts) BatchSize() int              { return s.batchSize }

type SubscribeOption func(opts *SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithQuery filters the subscription to envelopes matching q.
func WithQuery(q Query) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.query = q }
}

// WithStartSequence resumes delivery at startSequence. Callers that persist
// the last seen sequence pass lastSeen+1 to avoid double delivery across
// restarts.
func WithStartSequence(startSequence uint64) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.startSeq = startSequence }
}

func WithPollInterval(d time.Duration) SubscribeOption {
	return func(opts *SubscribeOpts) {
		if d > 0 {
			opts.pollInterval = d
		}
	}
}

func WithBatchSize(n int) SubscribeOption {
	return func(opts *SubscribeOpts) {
		if n > 0 {
			opts.batchSize = n
		}
	}
}

// Subscription delivers committed envelopes in global sequence order.
// Batches preserve order; within one subscription no envelope is delivered
// twice. Pause/Resume/Close are idempotent; after Close no further batch is
// delivered.
type Subscription interface {
	// Batches returns the delivery channel. It is closed by Close.
	Batches() <-chan []Envelope
	Pause()
	Resume()
	Close()
}

type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}
