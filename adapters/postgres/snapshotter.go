package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/cqrs-go/core/es"
)

// Snapshotter persists aggregate snapshots, keeping the history per
// aggregate so loads at an older version stay possible.
type Snapshotter struct {
	pool *pgxpool.Pool
}

func NewSnapshotter(pool *pgxpool.Pool) *Snapshotter {
	return &Snapshotter{pool: pool}
}

func (s *Snapshotter) SaveSnapshot(ctx context.Context, snapshot *es.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, version, stream_seq, schema_version, encoding, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (aggregate_type, aggregate_id, version)
		 DO UPDATE SET stream_seq = $4, schema_version = $5, encoding = $6, state = $7, created_at = $8`,
		snapshot.ObjType, snapshot.ObjID, snapshot.ObjVersion, snapshot.StreamSeq,
		snapshot.SchemaVersion, snapshot.Encoding, snapshot.Data, snapshot.CreatedAt,
	)
	if err != nil {
		return es.NewStoreError(err)
	}
	return nil
}

func (s *Snapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*es.Snapshot, error) {
	return s.load(ctx, objType, objID, 0)
}

func (s *Snapshotter) LoadSnapshotAtVersion(ctx context.Context, objType, objID string, maxVersion es.Version) (*es.Snapshot, error) {
	return s.load(ctx, objType, objID, maxVersion)
}

func (s *Snapshotter) load(ctx context.Context, objType, objID string, maxVersion es.Version) (*es.Snapshot, error) {
	q := `SELECT version, stream_seq, schema_version, encoding, state, created_at
	      FROM snapshots
	      WHERE aggregate_type = $1 AND aggregate_id = $2`
	args := []any{objType, objID}
	if maxVersion > 0 {
		args = append(args, maxVersion)
		q += ` AND version <= $3`
	}
	q += ` ORDER BY version DESC LIMIT 1`

	snapshot := &es.Snapshot{ObjType: objType, ObjID: objID}
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&snapshot.ObjVersion, &snapshot.StreamSeq, &snapshot.SchemaVersion,
		&snapshot.Encoding, &snapshot.Data, &snapshot.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, es.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, es.NewStoreError(err)
	}
	return snapshot, nil
}

var _ es.Snapshotter = (*Snapshotter)(nil)
