package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/outbox"
)

// RoutingFunc derives the outbox routing key for an envelope.
type RoutingFunc func(e es.Envelope) string

// Store is a PostgreSQL-backed es.EventStore. With an outbox routing function
// configured, every append also stages its envelopes in the outbox table
// within the same transaction, so a committed event is always eventually
// published.
type Store struct {
	pool    *pgxpool.Pool
	log     *slog.Logger
	routing RoutingFunc
}

type StoreOption func(*Store)

func WithStoreLog(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithOutboxEnqueue enables same-transaction outbox staging.
func WithOutboxEnqueue(routing RoutingFunc) StoreOption {
	return func(s *Store) { s.routing = routing }
}

func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool: pool,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("store", "postgres"))
	return s
}

const envelopeColumns = `id, global_position, version, aggregate_type, aggregate_id, type, metadata, occurred_at, stored_at, data`

func scanEnvelope(row pgx.Rows) (es.Envelope, error) {
	var e es.Envelope
	err := row.Scan(
		&e.ID, &e.Seq, &e.Version, &e.AggregateType, &e.AggregateID,
		&e.Type, &e.Metadata, &e.OccurredAt, &e.StoredAt, &e.Data,
	)
	return e, err
}

func collectEnvelopes(rows pgx.Rows) ([]es.Envelope, error) {
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, es.NewStoreError(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, es.NewStoreError(err)
	}
	return out, nil
}

func (s *Store) Load(ctx context.Context, aggType, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	r := es.ResolveLoadOptions(opts...)

	q := `SELECT ` + envelopeColumns + `
	      FROM events
	      WHERE aggregate_type = $1 AND aggregate_id = $2`
	args := []any{aggType, aggID}

	if r.StartVersion > 0 {
		args = append(args, r.StartVersion)
		q += fmt.Sprintf(" AND version >= $%d", len(args))
	}
	if r.EndVersion > 0 {
		args = append(args, r.EndVersion)
		q += fmt.Sprintf(" AND version <= $%d", len(args))
	}
	if r.StartSeq > 0 {
		args = append(args, r.StartSeq)
		q += fmt.Sprintf(" AND global_position >= $%d", len(args))
	}
	q += " ORDER BY version ASC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	return collectEnvelopes(rows)
}

func (s *Store) Append(ctx context.Context, aggType, aggID string, expectedVersion es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if err := es.ValidateBatch(aggType, aggID, expectedVersion, events); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	res, err := s.appendTx(ctx, tx, aggType, aggID, expectedVersion, events)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, es.NewStoreError(err)
	}
	return res, nil
}

// appendTx holds the per-aggregate advisory lock only for the
// check-version-then-insert critical section. The lock releases on commit or
// rollback.
func (s *Store) appendTx(ctx context.Context, tx pgx.Tx, aggType, aggID string, expectedVersion es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggID); err != nil {
		return nil, es.NewStoreError(err)
	}

	var actual es.Version
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	).Scan(&actual)
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	if actual != expectedVersion {
		return nil, es.NewConflictError(aggType, aggID, expectedVersion, actual)
	}

	res := &es.StoreAppendResult{Positions: make([]es.StreamPosition, 0, len(events))}
	for i := range events {
		e := &events[i]
		var (
			seq      uint64
			storedAt time.Time
		)
		err := tx.QueryRow(ctx,
			`INSERT INTO events (id, type, aggregate_id, aggregate_type, version, data, metadata, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING global_position, stored_at`,
			e.ID, e.Type, e.AggregateID, e.AggregateType, e.Version, e.Data, e.Metadata, e.OccurredAt,
		).Scan(&seq, &storedAt)
		if err != nil {
			return nil, es.NewStoreError(err)
		}
		e.Seq = seq
		e.StoredAt = storedAt
		res.Positions = append(res.Positions, es.StreamPosition{Seq: seq, Version: e.Version})
		res.LastSeq = seq
	}

	if s.routing != nil {
		if err := s.enqueueOutboxTx(ctx, tx, events); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Store) enqueueOutboxTx(ctx context.Context, tx pgx.Tx, events []es.Envelope) error {
	for _, e := range events {
		entry := outbox.FromEnvelope(e, s.routing(e))
		_, err := tx.Exec(ctx,
			`INSERT INTO outbox (id, event, event_seq, status, max_retries, routing_key, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.Event, entry.Event.Seq, entry.Status, entry.MaxRetries, entry.RoutingKey, entry.CreatedAt,
		)
		if err != nil {
			return es.NewStoreError(err)
		}
	}
	return nil
}

func (s *Store) AppendBulk(ctx context.Context, ops []es.BulkOperation) ([]es.StoreAppendResult, error) {
	for _, op := range ops {
		if err := es.ValidateBatch(op.AggregateType, op.AggregateID, op.ExpectedVersion, op.Events); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	// Locks are taken in sorted id order so concurrent bulk appends touching
	// overlapping aggregates cannot deadlock.
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.AggregateID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return nil, es.NewStoreError(err)
		}
	}

	results := make([]es.StoreAppendResult, 0, len(ops))
	for _, op := range ops {
		res, err := s.appendTx(ctx, tx, op.AggregateType, op.AggregateID, op.ExpectedVersion, op.Events)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, es.NewStoreError(err)
	}
	return results, nil
}

func (s *Store) Query(ctx context.Context, q es.Query) ([]es.Envelope, error) {
	return s.query(ctx, q, false)
}

// query optionally bounds results to rows whose inserting transaction
// committed before every transaction still in flight. Global positions are
// assigned at insert time but become visible at commit time, so without the
// bound a cursor read can observe position N+1 while position N is still
// uncommitted, advance past it and never see it.
func (s *Store) query(ctx context.Context, q es.Query, committedHorizon bool) ([]es.Envelope, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.AggregateID != "" {
		add("aggregate_id = $%d", q.AggregateID)
	}
	if q.AggregateType != "" {
		add("aggregate_type = $%d", q.AggregateType)
	}
	if q.EventType != "" {
		add("type = $%d", q.EventType)
	}
	if q.FromSeq > 0 {
		add("global_position >= $%d", q.FromSeq)
	}
	if !q.From.IsZero() {
		add("occurred_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("occurred_at <= $%d", q.To)
	}
	if committedHorizon {
		conds = append(conds, "tx_id < txid_snapshot_xmin(txid_current_snapshot())")
	}

	sql := `SELECT ` + envelopeColumns + ` FROM events`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY global_position ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	return collectEnvelopes(rows)
}

func (s *Store) CurrentVersion(ctx context.Context, aggType, aggID string) (es.Version, error) {
	var v es.Version
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	).Scan(&v)
	if err != nil {
		return 0, es.NewStoreError(err)
	}
	return v, nil
}

func (s *Store) Exists(ctx context.Context, aggType, aggID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE aggregate_type = $1 AND aggregate_id = $2)`,
		aggType, aggID,
	).Scan(&exists)
	if err != nil {
		return false, es.NewStoreError(err)
	}
	return exists, nil
}

func (s *Store) MaxSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(global_position), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, es.NewStoreError(err)
	}
	return seq, nil
}

// Subscribe polls through a committed-visibility horizon so the cursor never
// advances past a position whose transaction commits later.
func (s *Store) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	return es.NewPollingSubscription(ctx, s.log, horizonStore{s}, opts...), nil
}

// horizonStore is the Store with Query bounded to the committed horizon.
// Only cursor-driven readers (subscriptions) use it.
type horizonStore struct{ *Store }

func (h horizonStore) Query(ctx context.Context, q es.Query) ([]es.Envelope, error) {
	return h.Store.query(ctx, q, true)
}

var _ es.EventStore = (*Store)(nil)
var _ es.EventStore = horizonStore{}
