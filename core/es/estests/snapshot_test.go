package estests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
)

func TestSnapshot_Cadence(t *testing.T) {
	te := newTestEnv(t)
	repo := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry,
		es.WithSnapshotter(te.snapshotter),
		es.WithSnapshotEvery(3),
	)

	a, err := repo.Create(t.Context(), "a-1")
	require.NoError(t, err)

	// version 1: below cadence, no snapshot yet
	_, err = te.snapshotter.LoadSnapshot(t.Context(), "test_agg", "a-1")
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	// crossing version 3 writes a snapshot
	require.NoError(t, a.Inc())
	require.NoError(t, a.Inc())
	_, err = repo.Save(t.Context(), a)
	require.NoError(t, err)

	ss, err := te.snapshotter.LoadSnapshot(t.Context(), "test_agg", "a-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(3), ss.ObjVersion)
	require.Equal(t, uint64(3), ss.StreamSeq)
	require.Equal(t, "json", ss.Encoding)
}

func TestSnapshot_LoadWithTailReplay(t *testing.T) {
	te := newTestEnv(t)
	repo := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry,
		es.WithSnapshotter(te.snapshotter),
		es.WithSnapshotEvery(5),
	)

	a, err := repo.Create(t.Context(), "a-1")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, a.Inc())
		_, err = repo.Save(t.Context(), a)
		require.NoError(t, err)
	}
	require.Equal(t, es.Version(8), a.GetVersion())

	// snapshot sits at version 5; the load replays only the tail and the
	// result matches a full replay
	ss, err := te.snapshotter.LoadSnapshot(t.Context(), "test_agg", "a-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(5), ss.ObjVersion)

	fromSnapshot, err := repo.GetByID(t.Context(), "a-1")
	require.NoError(t, err)
	full, err := repo.GetByID(t.Context(), "a-1", es.WithoutSnapshot())
	require.NoError(t, err)

	require.Equal(t, full.Count(), fromSnapshot.Count())
	require.Equal(t, full.GetVersion(), fromSnapshot.GetVersion())
	require.Equal(t, full.GetSeq(), fromSnapshot.GetSeq())
}

func TestSnapshot_ForceAndSkip(t *testing.T) {
	te := newTestEnv(t)
	repo := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry,
		es.WithSnapshotter(te.snapshotter),
		es.WithSnapshotEvery(100),
	)

	a, err := repo.Create(t.Context(), "a-1")
	require.NoError(t, err)

	require.NoError(t, a.Inc())
	_, err = repo.Save(t.Context(), a, es.WithForceSnapshot())
	require.NoError(t, err)

	ss, err := te.snapshotter.LoadSnapshot(t.Context(), "test_agg", "a-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), ss.ObjVersion)
}

// corruptSnapshotter serves snapshots that cannot be restored.
type corruptSnapshotter struct{}

func (corruptSnapshotter) SaveSnapshot(context.Context, *es.Snapshot) error { return nil }

func (corruptSnapshotter) LoadSnapshot(_ context.Context, objType, objID string) (*es.Snapshot, error) {
	return &es.Snapshot{
		SnapshotID: "corrupt",
		ObjType:    objType,
		ObjID:      objID,
		ObjVersion: 1,
		CreatedAt:  time.Now(),
		Data:       []byte("not json"),
	}, nil
}

func (c corruptSnapshotter) LoadSnapshotAtVersion(ctx context.Context, objType, objID string, _ es.Version) (*es.Snapshot, error) {
	return c.LoadSnapshot(ctx, objType, objID)
}

func TestSnapshot_CorruptFallsBackToReplay(t *testing.T) {
	te := newTestEnv(t)

	writer := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry)
	a, err := writer.Create(t.Context(), "a-1")
	require.NoError(t, err)
	require.NoError(t, a.Inc())
	_, err = writer.Save(t.Context(), a)
	require.NoError(t, err)

	// a broken snapshot must never fail the read
	reader := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry,
		es.WithSnapshotter(corruptSnapshotter{}),
	)
	loaded, err := reader.GetByID(t.Context(), "a-1")
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Count())
	require.Equal(t, es.Version(2), loaded.GetVersion())
}

func TestSnapshot_MaxAge(t *testing.T) {
	te := newTestEnv(t)
	repo := es.NewTypedRepository[*TestAgg](testLog(), te.store, te.registry,
		es.WithSnapshotter(te.snapshotter),
		es.WithSnapshotEvery(2),
	)

	a, err := repo.Create(t.Context(), "a-1")
	require.NoError(t, err)
	require.NoError(t, a.Inc())
	_, err = repo.Save(t.Context(), a)
	require.NoError(t, err)

	// an over-age snapshot is skipped; the load still succeeds via replay
	loaded, err := repo.GetByID(t.Context(), "a-1", es.WithMaxSnapshotAge(time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Count())
	require.Equal(t, es.Version(2), loaded.GetVersion())
}

func TestSnapshot_AtVersion(t *testing.T) {
	s := es.NewInMemorySnapshotter()

	for _, v := range []es.Version{2, 4, 6} {
		require.NoError(t, s.SaveSnapshot(t.Context(), &es.Snapshot{
			SnapshotID: "ss",
			ObjType:    "test_agg",
			ObjID:      "a-1",
			ObjVersion: v,
			CreatedAt:  time.Now(),
			Data:       []byte(`{}`),
		}))
	}

	ss, err := s.LoadSnapshotAtVersion(t.Context(), "test_agg", "a-1", 5)
	require.NoError(t, err)
	require.Equal(t, es.Version(4), ss.ObjVersion)

	_, err = s.LoadSnapshotAtVersion(t.Context(), "test_agg", "a-1", 1)
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	latest, err := s.LoadSnapshot(t.Context(), "test_agg", "a-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(6), latest.ObjVersion)
}
