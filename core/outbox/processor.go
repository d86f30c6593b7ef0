package outbox

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcessorConfig tunes the polling publisher.
type ProcessorConfig struct {
	// Interval between processing ticks.
	Interval time.Duration
	// BatchSize caps both the pending drain and the retry sweep per tick.
	BatchSize int

	// Retry backoff: InitialDelay * Multiplier^retryCount, capped at MaxDelay.
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retention keeps PUBLISHED entries around before cleanup removes them.
	// 0 disables cleanup.
	Retention       time.Duration
	CleanupInterval time.Duration

	Log     *slog.Logger
	Metrics Metrics
}

func (c *ProcessorConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics()
	}
}

// Processor drains the outbox on a timer: per tick it publishes one batch of
// PENDING entries and retries due FAILED entries individually. A processor
// never overlaps its own ticks. Delivery is at-least-once; a crash between
// publish and MarkPublished redelivers on the next run.
type Processor struct {
	store     Store
	publisher Publisher
	cfg       ProcessorConfig
	log       *slog.Logger

	processMu sync.Mutex
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	started   sync.Once
}

func NewProcessor(store Store, publisher Publisher, cfg ProcessorConfig) *Processor {
	cfg.withDefaults()
	return &Processor{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       cfg.Log.With(slog.String("component", "outbox_processor")),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the processing loop. It returns immediately.
func (p *Processor) Start(ctx context.Context) {
	p.started.Do(func() {
		go p.run(ctx)
	})
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	p.log.Info("outbox processor started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox processor stopped", slog.Any("reason", ctx.Err()))
			return
		case <-p.closeChan:
			p.log.Info("outbox processor stopped")
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil {
				p.log.Warn("processing tick failed", slog.Any("error", err))
			}
		case <-cleanup.C:
			if p.cfg.Retention <= 0 {
				continue
			}
			n, err := p.store.PurgePublished(ctx, time.Now().Add(-p.cfg.Retention))
			if err != nil {
				p.log.Warn("cleanup failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				p.cfg.Metrics.EntriesPurged(n)
				p.log.Debug("purged published entries", slog.Int("count", n))
			}
		}
	}
}

// Stop shuts the processor down and waits for the in-flight tick. Idempotent.
func (p *Processor) Stop() {
	p.closeOnce.Do(func() {
		close(p.closeChan)
		<-p.done
	})
}

// ProcessOnce runs a single tick: drain pending, then retry due failures.
// Concurrent calls are serialized.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	p.processMu.Lock()
	defer p.processMu.Unlock()

	if err := p.drainPending(ctx); err != nil {
		return err
	}
	if err := p.retryDue(ctx); err != nil {
		return err
	}
	p.reportDepth(ctx)
	return nil
}

func (p *Processor) drainPending(ctx context.Context) error {
	batch, err := p.store.FetchPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	timer := p.cfg.Metrics.PublishDuration()
	err = p.publisher.PublishBatch(ctx, batch)
	timer.ObserveDuration()

	if err != nil {
		p.log.Warn("batch publish failed",
			slog.Int("entries", len(batch)),
			slog.Any("error", err),
		)
		p.cfg.Metrics.EntriesFailed(len(batch))
		for _, e := range batch {
			if markErr := p.store.MarkFailed(ctx, e.ID, err.Error(), p.nextRetryAt(e.RetryCount)); markErr != nil {
				p.log.Error("failed to mark entry failed",
					slog.String("entry_id", e.ID.String()),
					slog.Any("error", markErr),
				)
			}
		}
		return nil
	}

	ids := make([]uuid.UUID, 0, len(batch))
	for _, e := range batch {
		ids = append(ids, e.ID)
	}
	if err := p.store.MarkPublished(ctx, ids...); err != nil {
		return err
	}

	p.cfg.Metrics.EntriesPublished(len(batch))
	p.log.Debug("published batch", slog.Int("entries", len(batch)))
	return nil
}

func (p *Processor) retryDue(ctx context.Context) error {
	due, err := p.store.FetchDueRetries(ctx, time.Now(), p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	p.cfg.Metrics.EntriesRetried(len(due))

	for _, e := range due {
		timer := p.cfg.Metrics.PublishDuration()
		pubErr := p.publisher.Publish(ctx, e)
		timer.ObserveDuration()

		if pubErr != nil {
			p.cfg.Metrics.EntriesFailed(1)
			if markErr := p.store.MarkFailed(ctx, e.ID, pubErr.Error(), p.nextRetryAt(e.RetryCount)); markErr != nil {
				p.log.Error("failed to mark entry failed",
					slog.String("entry_id", e.ID.String()),
					slog.Any("error", markErr),
				)
			}
			continue
		}
		if err := p.store.MarkPublished(ctx, e.ID); err != nil {
			return err
		}
		p.cfg.Metrics.EntriesPublished(1)
	}
	return nil
}

// nextRetryAt computes the scheduled retry time at failure time using
// exponential backoff.
func (p *Processor) nextRetryAt(retryCount int) time.Time {
	delay := time.Duration(float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(retryCount)))
	if delay > p.cfg.MaxDelay || delay <= 0 {
		delay = p.cfg.MaxDelay
	}
	return time.Now().Add(delay)
}

func (p *Processor) reportDepth(ctx context.Context) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return
	}
	for _, st := range []Status{StatusPending, StatusProcessing, StatusPublished, StatusFailed} {
		p.cfg.Metrics.QueueDepth(st, stats[st])
	}
}
