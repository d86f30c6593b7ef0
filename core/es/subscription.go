package es

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// pollingSubscription polls an EventStore's Query for new envelopes past the
// last delivered sequence. It only ever observes committed, positioned
// events, so it is safe to run concurrently with in-flight appends.
type pollingSubscription struct {
	log     *slog.Logger
	store   EventStore
	opts    SubscribeOpts
	lastSeq atomic.Uint64
	paused  atomic.Bool

	ch        chan []Envelope
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewPollingSubscription starts a subscription over any EventStore. Store
// implementations without a native notification mechanism delegate their
// Subscribe to this.
func NewPollingSubscription(
	ctx context.Context,
	log *slog.Logger,
	store EventStore,
	opts ...SubscribeOption,
) Subscription {
	options := NewSubscribeOpts(opts...)
	s := &pollingSubscription{
		log:       log.With(slog.String("subscription", "poll")),
		store:     store,
		opts:      options,
		ch:        make(chan []Envelope),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if options.startSeq > 0 {
		s.lastSeq.Store(options.startSeq - 1)
	}

	context.AfterFunc(ctx, s.Close)
	go s.run(ctx)

	return s
}

func (s *pollingSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeChan:
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			if !s.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches and delivers one batch. Returns false when the subscription
// should stop.
func (s *pollingSubscription) poll(ctx context.Context) bool {
	q := s.opts.query
	q.FromSeq = s.lastSeq.Load() + 1
	q.Limit = s.opts.batchSize

	batch, err := s.store.Query(ctx, q)
	if err != nil {
		s.log.Error("poll failed", slog.Any("error", err))
		return true
	}
	if len(batch) == 0 {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-s.closeChan:
		return false
	case s.ch <- batch:
		s.lastSeq.Store(batch[len(batch)-1].Seq)
		s.log.Debug(
			"delivered",
			slog.Int("events", len(batch)),
			slog.Uint64("last_seq", s.lastSeq.Load()),
		)
	}
	return true
}

func (s *pollingSubscription) Batches() <-chan []Envelope { return s.ch }
func (s *pollingSubscription) Pause()                     { s.paused.Store(true) }
func (s *pollingSubscription) Resume()                    { s.paused.Store(false) }

func (s *pollingSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		<-s.done
	})
}

var _ Subscription = (*pollingSubscription)(nil)
