package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

type (
	// Snapshot is a point-in-time cached reconstruction of an aggregate.
	// A snapshot at version V is only valid for a stream whose next unread
	// event has version V+1. Snapshots are a sparse cache over a stream and
	// never authoritative: any load failure falls back to full replay.
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		ObjID      string  `json:"obj_id"`
		ObjType    string  `json:"obj_type"`
		ObjVersion Version `json:"obj_version"` // stream version at time of snapshot

		StreamSeq uint64 `json:"stream_seq"` // global sequence from the store

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Data          []byte    `json:"data"`
	}

	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error)
		// LoadSnapshotAtVersion returns the newest snapshot with
		// ObjVersion <= maxVersion.
		LoadSnapshotAtVersion(ctx context.Context, objType, objID string, maxVersion Version) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Time("created_at", s.CreatedAt),
		slog.Int("size", len(s.Data)),
	)
}

func LoadSnapshot(
	ctx context.Context,
	snapshotter Snapshotter,
	aggType, aggID string,
) (*Snapshot, error) {
	if snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	return snapshotter.LoadSnapshot(ctx, aggType, aggID)
}

// ApplySnapshot restores agg from its latest snapshot and fast-forwards the
// aggregate's version and sequence to the snapshot position.
func ApplySnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) (err error) {
	snapshot, err := LoadSnapshot(ctx, snapshotter, agg.GetAggType(), agg.GetID())
	if err != nil {
		return err
	}
	return RestoreFromSnapshot(agg, snapshot)
}

func RestoreFromSnapshot(agg Aggregate, snapshot *Snapshot) (err error) {
	if sss, ok := any(agg).(Snapshottable); ok {
		err = sss.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(snapshot.ObjVersion)
	agg.setSeq(snapshot.StreamSeq)
	return nil
}

func CreateSnapshot(agg Aggregate) (ss *Snapshot, err error) {
	var data []byte
	s, ok := any(agg).(Snapshottable)
	if ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	ss = &Snapshot{
		SnapshotID:    gonanoid.Must(),
		StreamSeq:     agg.GetSeq(),
		ObjID:         agg.GetID(),
		ObjType:       agg.GetAggType(),
		ObjVersion:    agg.GetVersion(),
		CreatedAt:     time.Now(),
		Encoding:      "json",
		Data:          data,
		SchemaVersion: 1,
	}
	return
}

// === In-Memory Snapshotter ===

// InMemorySnapshotter keeps the snapshot history per object so loads at an
// older version remain possible.
type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string][]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string][]*Snapshot{}}
}

func (i *InMemorySnapshotter) key(objType, objID string) string {
	return fmt.Sprintf("%s-%s", objType, objID)
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	sk := i.key(snapshot.ObjType, snapshot.ObjID)
	i.snapshots[sk] = append(i.snapshots[sk], snapshot)
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objType, objID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	hist := i.snapshots[i.key(objType, objID)]
	if len(hist) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return hist[len(hist)-1], nil
}

func (i *InMemorySnapshotter) LoadSnapshotAtVersion(_ context.Context, objType, objID string, maxVersion Version) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	hist := i.snapshots[i.key(objType, objID)]
	for n := len(hist) - 1; n >= 0; n-- {
		if hist[n].ObjVersion <= maxVersion {
			return hist[n], nil
		}
	}
	return nil, ErrSnapshotNotFound
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)
