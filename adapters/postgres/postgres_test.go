package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/outbox"
)

func envelope(aggType, aggID string, v es.Version) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          "Incremented",
		AggregateType: aggType,
		AggregateID:   aggID,
		Version:       v,
		OccurredAt:    time.Now(),
		Data:          []byte(`{"by":1}`),
	}
}

func envelopes(aggType, aggID string, from, n es.Version) []es.Envelope {
	out := make([]es.Envelope, 0, n)
	for i := es.Version(1); i <= n; i++ {
		out = append(out, envelope(aggType, aggID, from+i))
	}
	return out
}

func TestStore(t *testing.T) {
	pool := NewTestPool(t)
	s := NewStore(pool)
	ctx := t.Context()

	t.Run("append and load", func(t *testing.T) {
		res, err := s.Append(ctx, "counter", "c-1", 0, envelopes("counter", "c-1", 0, 3))
		require.NoError(t, err)
		require.Len(t, res.Positions, 3)
		require.Equal(t, res.Positions[2].Seq, res.LastSeq)

		loaded, err := s.Load(ctx, "counter", "c-1")
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		for i, e := range loaded {
			require.Equal(t, es.Version(i+1), e.Version)
			require.NotZero(t, e.Seq)
			require.False(t, e.StoredAt.IsZero())
		}

		v, err := s.CurrentVersion(ctx, "counter", "c-1")
		require.NoError(t, err)
		require.Equal(t, es.Version(3), v)

		ok, err := s.Exists(ctx, "counter", "c-1")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("load range", func(t *testing.T) {
		_, err := s.Append(ctx, "counter", "c-range", 0, envelopes("counter", "c-range", 0, 5))
		require.NoError(t, err)

		loaded, err := s.Load(ctx, "counter", "c-range",
			es.WithStartAtVersion(2),
			es.WithEndAtVersion(4),
		)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		require.Equal(t, es.Version(2), loaded[0].Version)
		require.Equal(t, es.Version(4), loaded[2].Version)
	})

	t.Run("load missing stream", func(t *testing.T) {
		loaded, err := s.Load(ctx, "counter", "nope")
		require.NoError(t, err)
		require.Empty(t, loaded)

		ok, err := s.Exists(ctx, "counter", "nope")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("conflict", func(t *testing.T) {
		_, err := s.Append(ctx, "counter", "c-conflict", 0, envelopes("counter", "c-conflict", 0, 2))
		require.NoError(t, err)

		_, err = s.Append(ctx, "counter", "c-conflict", 0, envelopes("counter", "c-conflict", 0, 1))
		require.Error(t, err)

		var esErr *es.Error
		require.ErrorAs(t, err, &esErr)
		require.Equal(t, es.CodeConcurrencyConflict, esErr.Code)
		require.Equal(t, es.Version(0), esErr.ExpectedVersion)
		require.Equal(t, es.Version(2), esErr.ActualVersion)

		// the conflicting batch must not be written
		v, err := s.CurrentVersion(ctx, "counter", "c-conflict")
		require.NoError(t, err)
		require.Equal(t, es.Version(2), v)
	})

	t.Run("bulk is atomic", func(t *testing.T) {
		_, err := s.Append(ctx, "counter", "c-bulk-b", 0, envelopes("counter", "c-bulk-b", 0, 1))
		require.NoError(t, err)

		_, err = s.AppendBulk(ctx, []es.BulkOperation{
			{AggregateType: "counter", AggregateID: "c-bulk-a", ExpectedVersion: 0, Events: envelopes("counter", "c-bulk-a", 0, 2)},
			{AggregateType: "counter", AggregateID: "c-bulk-b", ExpectedVersion: 0, Events: envelopes("counter", "c-bulk-b", 0, 1)},
		})
		require.Error(t, err)
		require.Equal(t, es.CodeConcurrencyConflict, es.CodeOf(err))

		// the first operation rolled back with the failing one
		ok, err := s.Exists(ctx, "counter", "c-bulk-a")
		require.NoError(t, err)
		require.False(t, ok)

		res, err := s.AppendBulk(ctx, []es.BulkOperation{
			{AggregateType: "counter", AggregateID: "c-bulk-a", ExpectedVersion: 0, Events: envelopes("counter", "c-bulk-a", 0, 2)},
			{AggregateType: "counter", AggregateID: "c-bulk-b", ExpectedVersion: 1, Events: envelopes("counter", "c-bulk-b", 1, 1)},
		})
		require.NoError(t, err)
		require.Len(t, res, 2)
	})

	t.Run("query", func(t *testing.T) {
		_, err := s.Append(ctx, "gauge", "g-1", 0, envelopes("gauge", "g-1", 0, 2))
		require.NoError(t, err)

		byType, err := s.Query(ctx, es.Query{AggregateType: "gauge"})
		require.NoError(t, err)
		require.Len(t, byType, 2)

		limited, err := s.Query(ctx, es.Query{AggregateType: "gauge", Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		require.Equal(t, byType[0].Seq, limited[0].Seq)

		fromSeq, err := s.Query(ctx, es.Query{AggregateType: "gauge", FromSeq: byType[1].Seq})
		require.NoError(t, err)
		require.Len(t, fromSeq, 1)
	})

	t.Run("max seq", func(t *testing.T) {
		maxSeq, err := s.MaxSeq(ctx)
		require.NoError(t, err)

		res, err := s.Append(ctx, "counter", "c-seq", 0, envelopes("counter", "c-seq", 0, 1))
		require.NoError(t, err)
		require.Equal(t, maxSeq+1, res.LastSeq)

		maxSeq, err = s.MaxSeq(ctx)
		require.NoError(t, err)
		require.Equal(t, res.LastSeq, maxSeq)
	})
}

func TestStore_OutboxEnqueue(t *testing.T) {
	pool := NewTestPool(t)
	ctx := t.Context()

	s := NewStore(pool, WithOutboxEnqueue(func(e es.Envelope) string {
		return "events." + e.AggregateType
	}))
	ob := NewOutboxStore(pool)

	_, err := s.Append(ctx, "counter", "c-1", 0, envelopes("counter", "c-1", 0, 2))
	require.NoError(t, err)

	batch, err := ob.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for i, e := range batch {
		require.Equal(t, "events.counter", e.RoutingKey)
		require.Equal(t, es.Version(i+1), e.Event.Version)
		require.Equal(t, outbox.StatusProcessing, e.Status)
	}

	// a conflicting append stages nothing
	_, err = s.Append(ctx, "counter", "c-1", 0, envelopes("counter", "c-1", 0, 1))
	require.Error(t, err)

	again, err := ob.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestStore_CommitOrderVisibility(t *testing.T) {
	pool := NewTestPool(t)
	s := NewStore(pool)
	ctx := t.Context()

	// an uncommitted append holds the earlier global position
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	_, err = s.appendTx(ctx, tx, "counter", "c-slow", 0, envelopes("counter", "c-slow", 0, 1))
	require.NoError(t, err)

	// a later append commits first and takes the higher position
	res, err := s.Append(ctx, "counter", "c-fast", 0, envelopes("counter", "c-fast", 0, 1))
	require.NoError(t, err)

	// a plain query already sees the committed row
	visible, err := s.Query(ctx, es.Query{FromSeq: 1})
	require.NoError(t, err)
	require.Len(t, visible, 1)

	// a cursor read must not surface it while the earlier position is
	// still in flight; delivering it would advance the cursor past c-slow
	reader := horizonStore{s}
	out, err := reader.Query(ctx, es.Query{FromSeq: 1})
	require.NoError(t, err)
	require.Empty(t, out)

	require.NoError(t, tx.Commit(ctx))

	out, err = reader.Query(ctx, es.Query{FromSeq: 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Less(t, out[0].Seq, out[1].Seq)
	require.Equal(t, res.LastSeq, out[1].Seq)
}

func TestSnapshotter(t *testing.T) {
	pool := NewTestPool(t)
	ss := NewSnapshotter(pool)
	ctx := t.Context()

	save := func(v es.Version, seq uint64) {
		require.NoError(t, ss.SaveSnapshot(ctx, &es.Snapshot{
			ObjType:       "counter",
			ObjID:         "c-1",
			ObjVersion:    v,
			StreamSeq:     seq,
			SchemaVersion: 1,
			Encoding:      "json",
			Data:          []byte(`{"count":1}`),
			CreatedAt:     time.Now(),
		}))
	}

	t.Run("not found", func(t *testing.T) {
		_, err := ss.LoadSnapshot(ctx, "counter", "c-1")
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})

	t.Run("latest wins", func(t *testing.T) {
		save(2, 2)
		save(4, 4)

		snap, err := ss.LoadSnapshot(ctx, "counter", "c-1")
		require.NoError(t, err)
		require.Equal(t, es.Version(4), snap.ObjVersion)
		require.Equal(t, uint64(4), snap.StreamSeq)
		require.JSONEq(t, `{"count":1}`, string(snap.Data))
	})

	t.Run("at version", func(t *testing.T) {
		snap, err := ss.LoadSnapshotAtVersion(ctx, "counter", "c-1", 3)
		require.NoError(t, err)
		require.Equal(t, es.Version(2), snap.ObjVersion)

		_, err = ss.LoadSnapshotAtVersion(ctx, "counter", "c-1", 1)
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})

	t.Run("upsert same version", func(t *testing.T) {
		require.NoError(t, ss.SaveSnapshot(ctx, &es.Snapshot{
			ObjType:       "counter",
			ObjID:         "c-1",
			ObjVersion:    4,
			StreamSeq:     4,
			SchemaVersion: 2,
			Encoding:      "json",
			Data:          []byte(`{"count":9}`),
			CreatedAt:     time.Now(),
		}))

		snap, err := ss.LoadSnapshot(ctx, "counter", "c-1")
		require.NoError(t, err)
		require.Equal(t, 2, snap.SchemaVersion)
		require.JSONEq(t, `{"count":9}`, string(snap.Data))
	})
}

func TestOutboxStore(t *testing.T) {
	pool := NewTestPool(t)
	ob := NewOutboxStore(pool)
	ctx := t.Context()

	seq := uint64(0)
	enqueue := func(t *testing.T) *outbox.Entry {
		t.Helper()
		seq++
		e := outbox.FromEnvelope(es.Envelope{
			ID:            gonanoid.Must(),
			Seq:           seq,
			Version:       es.Version(seq),
			AggregateType: "counter",
			AggregateID:   "c-1",
			Type:          "Incremented",
			OccurredAt:    time.Now(),
			Data:          []byte(`{}`),
		}, "events.counter")
		require.NoError(t, ob.Enqueue(ctx, e))
		return e
	}

	t.Run("fetch marks processing", func(t *testing.T) {
		e := enqueue(t)

		batch, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.Equal(t, e.ID, batch[0].ID)
		require.Equal(t, outbox.StatusProcessing, batch[0].Status)
		require.Equal(t, e.Event.ID, batch[0].Event.ID)

		again, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, again)

		require.NoError(t, ob.MarkPublished(ctx, e.ID))
	})

	t.Run("publish requires processing", func(t *testing.T) {
		e := enqueue(t)

		err := ob.MarkPublished(ctx, e.ID)
		require.ErrorIs(t, err, outbox.ErrIllegalTransition)

		batch, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.NoError(t, ob.MarkPublished(ctx, e.ID))
	})

	t.Run("failure and retry", func(t *testing.T) {
		e := enqueue(t)

		batch, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1)

		retryAt := time.Now().Add(-time.Second)
		require.NoError(t, ob.MarkFailed(ctx, e.ID, "broker down", retryAt))

		due, err := ob.FetchDueRetries(ctx, time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		require.Equal(t, 1, due[0].RetryCount)
		require.Equal(t, "broker down", due[0].LastError)

		require.NoError(t, ob.MarkPublished(ctx, e.ID))
	})

	t.Run("abandoned processing entries are requeued", func(t *testing.T) {
		e := enqueue(t)

		batch, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1)

		// a fresh PROCESSING entry stays with its processor
		again, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, again)

		// backdate the claim past the deadline, as if the processor died
		// between fetch and acknowledgement
		_, err = pool.Exec(ctx,
			`UPDATE outbox SET processing_at = now() - interval '1 hour' WHERE id = $1`,
			e.ID,
		)
		require.NoError(t, err)

		reclaimed, err := ob.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		require.Equal(t, e.ID, reclaimed[0].ID)
		require.Equal(t, outbox.StatusProcessing, reclaimed[0].Status)

		require.NoError(t, ob.MarkPublished(ctx, e.ID))
	})

	t.Run("mark failed unknown entry", func(t *testing.T) {
		err := ob.MarkFailed(ctx, uuid.New(), "boom", time.Now())
		require.ErrorIs(t, err, outbox.ErrEntryNotFound)
	})

	t.Run("stats and purge", func(t *testing.T) {
		stats, err := ob.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, stats[outbox.StatusPublished])

		n, err := ob.PurgePublished(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		stats, err = ob.Stats(ctx)
		require.NoError(t, err)
		require.Zero(t, stats[outbox.StatusPublished])
	})
}

func TestCpStore(t *testing.T) {
	pool := NewTestPool(t)

	a := NewCpStore(pool, "projector-a")
	b := NewCpStore(pool, "projector-b")

	_, err := a.Get()
	require.True(t, errors.Is(err, es.ErrCheckpointNotFound))

	require.NoError(t, a.Set(7))
	seen, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(7), seen)

	// upsert moves the checkpoint forward
	require.NoError(t, a.Set(12))
	seen, err = a.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(12), seen)

	// consumers are isolated
	_, err = b.Get()
	require.ErrorIs(t, err, es.ErrCheckpointNotFound)
}
