package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/cqrs-go/core/es"
)

// CpStore persists one consumer's checkpoint in the checkpoints table.
type CpStore struct {
	pool     *pgxpool.Pool
	consumer string
}

func NewCpStore(pool *pgxpool.Pool, consumer string) *CpStore {
	return &CpStore{pool: pool, consumer: consumer}
}

func (s *CpStore) Get() (uint64, error) {
	var lastSeen uint64
	err := s.pool.QueryRow(context.Background(),
		`SELECT last_seen FROM checkpoints WHERE consumer = $1`, s.consumer,
	).Scan(&lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, es.ErrCheckpointNotFound
	}
	if err != nil {
		return 0, err
	}
	return lastSeen, nil
}

func (s *CpStore) Set(lastSeen uint64) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO checkpoints (consumer, last_seen) VALUES ($1, $2)
		 ON CONFLICT (consumer) DO UPDATE SET last_seen = $2`,
		s.consumer, lastSeen,
	)
	return err
}

var _ es.CpStore = (*CpStore)(nil)
