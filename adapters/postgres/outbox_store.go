package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/cqrs-go/core/outbox"
)

// DefaultProcessingTimeout is how long a fetched entry may stay PROCESSING
// before it is requeued as PENDING.
const DefaultProcessingTimeout = 5 * time.Minute

// OutboxStore persists outbox entries. Fetches use FOR UPDATE SKIP LOCKED so
// several processors can drain the same table without handing out the same
// entry twice.
type OutboxStore struct {
	pool              *pgxpool.Pool
	processingTimeout time.Duration
}

type OutboxStoreOption func(*OutboxStore)

// WithProcessingTimeout overrides the deadline after which PROCESSING entries
// are considered abandoned. Must exceed the longest expected publish batch.
func WithProcessingTimeout(d time.Duration) OutboxStoreOption {
	return func(s *OutboxStore) { s.processingTimeout = d }
}

func NewOutboxStore(pool *pgxpool.Pool, opts ...OutboxStoreOption) *OutboxStore {
	s := &OutboxStore{
		pool:              pool,
		processingTimeout: DefaultProcessingTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *OutboxStore) Enqueue(ctx context.Context, entries ...*outbox.Entry) error {
	for _, e := range entries {
		if e.Status == "" {
			e.Status = outbox.StatusPending
		}
		if e.Status != outbox.StatusPending {
			return fmt.Errorf("%w: enqueue with status %s", outbox.ErrIllegalTransition, e.Status)
		}
		if e.MaxRetries == 0 {
			e.MaxRetries = outbox.DefaultMaxRetries
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO outbox (id, event, event_seq, status, max_retries, routing_key, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.Event, e.Event.Seq, e.Status, e.MaxRetries, e.RoutingKey, e.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const entryColumns = `id, event, status, retry_count, max_retries, COALESCE(next_retry_at, 'epoch'::timestamptz), COALESCE(last_error, ''), COALESCE(routing_key, ''), created_at, processed_at`

func collectEntries(rows pgx.Rows) ([]*outbox.Entry, error) {
	defer rows.Close()

	var out []*outbox.Entry
	for rows.Next() {
		e := &outbox.Entry{}
		err := rows.Scan(
			&e.ID, &e.Event, &e.Status, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.LastError, &e.RoutingKey, &e.CreatedAt, &e.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// fetch marks matching rows PROCESSING and returns them, atomically.
func (s *OutboxStore) fetch(ctx context.Context, cond string, args ...any) ([]*outbox.Entry, error) {
	q := fmt.Sprintf(
		`UPDATE outbox SET status = 'PROCESSING', processing_at = now()
		 WHERE id IN (
		     SELECT id FROM outbox
		     WHERE %s
		     ORDER BY created_at, event_seq
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING %s`, cond, entryColumns)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// requeueAbandoned returns entries stuck PROCESSING past the deadline to
// PENDING. A processor that died between fetch and acknowledgement leaves its
// rows PROCESSING; without the requeue they would never be picked up again.
func (s *OutboxStore) requeueAbandoned(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = 'PENDING', processing_at = NULL
		 WHERE status = 'PROCESSING' AND processing_at < $1`,
		time.Now().Add(-s.processingTimeout),
	)
	return err
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if err := s.requeueAbandoned(ctx); err != nil {
		return nil, err
	}
	return s.fetch(ctx, `status = 'PENDING'`, limit)
}

func (s *OutboxStore) FetchDueRetries(ctx context.Context, now time.Time, limit int) ([]*outbox.Entry, error) {
	return s.fetch(ctx,
		`status = 'FAILED' AND retry_count < max_retries AND next_retry_at <= $2`,
		limit, now,
	)
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids ...uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = 'PUBLISHED', processed_at = now()
		 WHERE id = ANY($1) AND status = 'PROCESSING'`,
		ids,
	)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("%w: %d of %d entries were PROCESSING",
			outbox.ErrIllegalTransition, tag.RowsAffected(), len(ids))
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox
		 SET status = 'FAILED', retry_count = retry_count + 1, last_error = $2, next_retry_at = $3
		 WHERE id = $1 AND status = 'PROCESSING'`,
		id, lastError, nextRetryAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", outbox.ErrEntryNotFound, id)
	}
	return nil
}

func (s *OutboxStore) PurgePublished(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outbox WHERE status = 'PUBLISHED' AND processed_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *OutboxStore) Stats(ctx context.Context) (map[outbox.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[outbox.Status]int{}
	for rows.Next() {
		var (
			st outbox.Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

var _ outbox.Store = (*OutboxStore)(nil)
