// Package postgres backs the event store, snapshotter, outbox and consumer
// checkpoints with PostgreSQL. Optimistic concurrency is enforced inside a
// transaction holding a per-aggregate advisory lock, so appends to different
// aggregates never contend.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    global_position BIGSERIAL PRIMARY KEY,
    id              TEXT        NOT NULL UNIQUE,
    type            TEXT        NOT NULL,
    aggregate_id    TEXT        NOT NULL,
    aggregate_type  TEXT        NOT NULL,
    version         BIGINT      NOT NULL,
    data            JSONB       NOT NULL,
    metadata        JSONB       NOT NULL DEFAULT '{}',
    occurred_at     TIMESTAMPTZ NOT NULL,
    stored_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    tx_id           BIGINT      NOT NULL DEFAULT txid_current(),
    UNIQUE (aggregate_id, version)
);

CREATE INDEX IF NOT EXISTS idx_events_aggregate
    ON events (aggregate_type, aggregate_id, version);
CREATE INDEX IF NOT EXISTS idx_events_type
    ON events (type, global_position);

CREATE TABLE IF NOT EXISTS snapshots (
    aggregate_type TEXT        NOT NULL,
    aggregate_id   TEXT        NOT NULL,
    version        BIGINT      NOT NULL,
    stream_seq     BIGINT      NOT NULL,
    schema_version INT         NOT NULL DEFAULT 1,
    encoding       TEXT        NOT NULL DEFAULT 'json',
    state          BYTEA       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (aggregate_type, aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS outbox (
    id           UUID        PRIMARY KEY,
    event        JSONB       NOT NULL,
    event_seq    BIGINT      NOT NULL,
    status       TEXT        NOT NULL DEFAULT 'PENDING',
    retry_count  INT         NOT NULL DEFAULT 0,
    max_retries  INT         NOT NULL DEFAULT 5,
    next_retry_at TIMESTAMPTZ,
    last_error   TEXT,
    routing_key  TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    processing_at TIMESTAMPTZ,
    processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_status
    ON outbox (status, created_at);

CREATE TABLE IF NOT EXISTS checkpoints (
    consumer  TEXT   PRIMARY KEY,
    last_seen BIGINT NOT NULL
);
`

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables used by this package.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
