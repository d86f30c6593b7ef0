package es

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sync"

	"github.com/codewandler/cqrs-go/core/perkey"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
//
// Appends are serialized per aggregate via a keyed scheduler so the
// check-version-then-insert sequence is atomic per stream while different
// streams append in parallel.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	seq     uint64
	streams map[string][]Envelope
	all     []Envelope
	locks   *perkey.Scheduler[string]
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
		locks:   perkey.New[string](),
	}
}

func (s *InMemoryStore) streamKey(aggType, aggID string) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType,
	aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loadOpts := &eventStoreLoadOptions{}
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(loadOpts)
	}

	out := make([]Envelope, 0)
	for _, e := range s.streams[s.streamKey(aggType, aggID)] {
		if e.Version < loadOpts.startVersion {
			continue
		}
		if loadOpts.endVersion > 0 && e.Version > loadOpts.endVersion {
			continue
		}
		if e.Seq < loadOpts.startSeq {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if err := ValidateBatch(aggType, aggID, expectVersion, events); err != nil {
		return nil, err
	}

	var res *StoreAppendResult
	err := s.locks.DoContext(ctx, s.streamKey(aggType, aggID), func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var err error
		res, err = s.append(aggType, aggID, expectVersion, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// append inserts one validated batch. Callers hold s.mu.
func (s *InMemoryStore) append(
	aggType, aggID string,
	expectVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	var (
		sk         = s.streamKey(aggType, aggID)
		curStream  = s.streams[sk]
		curVersion Version
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != expectVersion {
		return nil, NewConflictError(aggType, aggID, expectVersion, curVersion)
	}

	var (
		now       = time.Now()
		positions = make([]StreamPosition, 0, len(events))
		appended  = make([]Envelope, 0, len(events))
	)
	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		e.StoredAt = now
		appended = append(appended, e)
		positions = append(positions, StreamPosition{Seq: e.Seq, Version: e.Version})
	}
	s.streams[sk] = append(curStream, appended...)
	s.all = append(s.all, appended...)

	s.log.Debug(
		"append",
		slog.String("agg_type", aggType),
		slog.String("agg_id", aggID),
		slog.Uint64("last_seq", s.seq),
		slog.Int("num_events", len(appended)),
	)

	return &StoreAppendResult{LastSeq: s.seq, Positions: positions}, nil
}

// AppendBulk applies all operations as one unit. All version checks run
// before any insert, so a conflict in any operation leaves the store
// untouched.
func (s *InMemoryStore) AppendBulk(_ context.Context, ops []BulkOperation) ([]StoreAppendResult, error) {
	if len(ops) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		if err := ValidateBatch(op.AggregateType, op.AggregateID, op.ExpectedVersion, op.Events); err != nil {
			return nil, err
		}
		var curVersion Version
		if stream := s.streams[s.streamKey(op.AggregateType, op.AggregateID)]; len(stream) > 0 {
			curVersion = stream[len(stream)-1].Version
		}
		if curVersion != op.ExpectedVersion {
			return nil, NewConflictError(op.AggregateType, op.AggregateID, op.ExpectedVersion, curVersion)
		}
	}

	results := make([]StoreAppendResult, 0, len(ops))
	for _, op := range ops {
		res, err := s.append(op.AggregateType, op.AggregateID, op.ExpectedVersion, op.Events)
		if err != nil {
			// version checks already passed; this is a defect
			return nil, NewStoreError(err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *InMemoryStore) Query(_ context.Context, q Query) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Envelope, 0)
	for _, e := range s.all {
		if !q.Match(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) CurrentVersion(_ context.Context, aggType, aggID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[s.streamKey(aggType, aggID)]
	if !ok || len(stream) == 0 {
		return 0, nil
	}
	return stream[len(stream)-1].Version, nil
}

func (s *InMemoryStore) Exists(ctx context.Context, aggType, aggID string) (bool, error) {
	v, err := s.CurrentVersion(ctx, aggType, aggID)
	if err != nil {
		return false, err
	}
	return v > 0, nil
}

func (s *InMemoryStore) MaxSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	return NewPollingSubscription(ctx, s.log, s, opts...), nil
}

// Close shuts down the per-stream append scheduler.
func (s *InMemoryStore) Close() { s.locks.Close() }

var _ EventStore = (*InMemoryStore)(nil)
