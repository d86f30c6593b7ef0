package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codewandler/cqrs-go/core/ds"
	"github.com/codewandler/cqrs-go/core/sf"
)

type (
	// SaveResult reports what a successful save committed: the stored
	// envelopes with their assigned positions, plus the side effects
	// collected during command execution for the caller to dispatch.
	SaveResult struct {
		Events      []Envelope
		Positions   []StreamPosition
		SideEffects []SideEffect
	}

	Repository interface {
		Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
		Save(ctx context.Context, agg Aggregate, opts ...SaveOption) (*SaveResult, error)
		CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
	}
)

// repository rehydrates aggregates and persists new events with optimistic
// concurrency. Transient store failures are retried internally with bounded
// backoff; concurrency conflicts and validation failures surface immediately.
type repository struct {
	log      *slog.Logger
	store    EventStore
	registry *EventRegistry
	opts     repoOpts
	sfSnap   *sf.Singleflight[Snapshot]
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOpts(opts...)
	return &repository{
		log:      log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:    store,
		registry: registry,
		opts:     options,
		sfSnap:   sf.New[Snapshot](),
	}
}

// isTransient reports whether a store error may be retried. Domain-significant
// failures (conflicts, validation, missing aggregates) never are.
func isTransient(err error) bool {
	switch CodeOf(err) {
	case CodeConcurrencyConflict,
		CodeAggregateNotFound,
		CodeAlreadyExists,
		CodeInvalidEventSequence,
		CodeValidation,
		CodeBusinessRuleViolation:
		return false
	}
	return true
}

// retryStore runs op with bounded exponential backoff on transient errors
// and wraps the final failure as EVENT_STORE_ERROR.
func retryStore[T any](ctx context.Context, retries uint, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond

	out, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(retries))
	if err != nil && isTransient(err) {
		var e *Error
		if !errors.As(err, &e) {
			err = NewStoreError(err)
		}
	}
	return out, err
}

// Load rehydrates agg from the store. When a snapshotter is configured the
// load restores the latest usable snapshot and replays only the tail; any
// snapshot failure falls back to full replay transparently and never fails
// the read.
func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) (err error) {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events (dirty=true)")
	}

	defer r.opts.metrics.RepoLoadDuration(aggType).ObserveDuration()

	loadOptions := newLoadOptions(opts...)

	log := r.log.With(
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
	)

	if loadOptions.snapshot && r.opts.snapshotter != nil {
		r.loadFromSnapshot(ctx, log, agg, loadOptions)
	}

	var (
		curVersion = agg.GetVersion()
		curSeq     = agg.GetSeq()
		minVersion = curVersion + 1
	)

	log.Debug(
		"load",
		slog.Group("opts",
			minVersion.SlogAttrWithKey("min_version"),
			slog.Bool("snapshot", loadOptions.snapshot),
		),
	)

	loaded, err := retryStore(ctx, r.opts.storeRetries, func() ([]Envelope, error) {
		return r.store.Load(ctx, aggType, aggID, WithStartAtVersion(minVersion))
	})
	if err != nil {
		return err
	}

	for _, e := range loaded {
		expectVersion := agg.GetVersion() + 1
		if e.Version != expectVersion {
			return NewError(CodeInvalidEventSequence,
				"%s/%s: expect version %d, got %d", aggType, aggID, expectVersion, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}
		agg.applyTransition(evt)

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
		curVersion = e.Version
		curSeq = e.Seq
	}

	if curVersion == 0 {
		return ErrAggregateNotFound
	}

	log.Debug("loaded", slog.Uint64("seq", curSeq), curVersion.SlogAttr())
	return nil
}

// loadFromSnapshot best-effort restores agg from its latest snapshot.
// Concurrent loads of the same aggregate share one snapshot fetch.
func (r *repository) loadFromSnapshot(ctx context.Context, log *slog.Logger, agg Aggregate, opts repoLoadOptions) {
	aggType, aggID := agg.GetAggType(), agg.GetID()

	timer := r.opts.metrics.SnapshotLoadDuration(aggType)
	snapshot, err := r.sfSnap.Do(fmt.Sprintf("%s-%s", aggType, aggID), func() (*Snapshot, error) {
		return r.opts.snapshotter.LoadSnapshot(ctx, aggType, aggID)
	})
	timer.ObserveDuration()

	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			r.opts.metrics.SnapshotFallback(aggType)
			log.Warn("snapshot load failed, falling back to full replay", slog.Any("error", err))
		}
		return
	}

	if opts.maxSnapshotAge > 0 && time.Since(snapshot.CreatedAt) > opts.maxSnapshotAge {
		log.Debug("snapshot too old, full replay", slog.Time("created_at", snapshot.CreatedAt))
		return
	}

	// a partially restored aggregate must not leak into the replay
	restore, err := captureAggregate(agg)
	if err != nil {
		r.opts.metrics.SnapshotFallback(aggType)
		log.Warn("snapshot restore skipped", slog.Any("error", err))
		return
	}
	if err := RestoreFromSnapshot(agg, snapshot); err != nil {
		r.opts.metrics.SnapshotFallback(aggType)
		log.Warn("snapshot restore failed, falling back to full replay", slog.Any("error", err))
		if restoreErr := restore(); restoreErr != nil {
			log.Error("failed to reset aggregate after snapshot failure", slog.Any("error", restoreErr))
		}
		agg.setVersion(0)
		agg.setSeq(0)
		return
	}

	log.Debug("snapshot applied", slog.Uint64("seq", agg.GetSeq()), agg.GetVersion().SlogAttr())
}

func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) (*SaveResult, error) {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return &SaveResult{}, nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	defer r.opts.metrics.RepoSaveDuration(aggType).ObserveDuration()

	saveOptions := newSaveOptions(saveOpts...)

	if !saveOptions.skipValidation {
		if v, ok := any(agg).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return nil, NewError(CodeValidation, "aggregate %s/%s invalid: %s", aggType, aggID, err.Error())
			}
		}
	}

	// the version before this batch of uncommitted events
	expectVersion := agg.GetVersion()
	if saveOptions.expectedVersion != nil {
		expectVersion = *saveOptions.expectedVersion
	}

	newEnvs := make([]Envelope, 0, len(uncommitted))
	v := expectVersion
	for _, ev := range uncommitted {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		v++

		env := Envelope{
			ID:            r.opts.idGenerator(),
			Type:          getEventTypeOf(ev),
			AggregateID:   aggID,
			AggregateType: aggType,
			Version:       v,
			Metadata:      saveOptions.meta,
			OccurredAt:    time.Now(),
			Data:          data,
		}

		if err := env.Validate(); err != nil {
			return nil, err
		}

		newEnvs = append(newEnvs, env)
	}

	res, err := retryStore(ctx, r.opts.storeRetries, func() (*StoreAppendResult, error) {
		return r.store.Append(ctx, aggType, aggID, expectVersion, newEnvs)
	})
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.opts.metrics.ConcurrencyConflict(aggType)
		}
		return nil, fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return nil, errors.New("append returned nil result")
	}

	r.opts.metrics.EventsAppended(aggType, len(newEnvs))

	for i := range newEnvs {
		if i < len(res.Positions) {
			newEnvs[i].Seq = res.Positions[i].Seq
		}
	}

	agg.setSeq(res.LastSeq)
	agg.setVersion(v)
	agg.ClearUncommitted()

	effects := agg.SideEffects()
	agg.ClearSideEffects()

	if r.shouldSnapshot(expectVersion, v, saveOptions) {
		// snapshot creation failure must not fail the save
		if _, snapshotErr := r.CreateSnapshot(ctx, agg); snapshotErr != nil {
			r.log.Warn("snapshot creation failed", slog.Any("error", snapshotErr))
		}
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", aggID),
			slog.String("type", aggType),
			slog.Uint64("seq", agg.GetSeq()),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(newEnvs)),
	)

	return &SaveResult{
		Events:      newEnvs,
		Positions:   res.Positions,
		SideEffects: effects,
	}, nil
}

// shouldSnapshot applies the cadence: snapshot whenever the save crossed a
// multiple of snapshotEvery versions.
func (r *repository) shouldSnapshot(oldVersion, newVersion Version, opts repoSaveOptions) bool {
	if r.opts.snapshotter == nil {
		return false
	}
	if opts.forceSnapshot {
		return true
	}
	if opts.skipSnapshot || r.opts.snapshotEvery == 0 {
		return false
	}
	return newVersion/r.opts.snapshotEvery > oldVersion/r.opts.snapshotEvery
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (ss *Snapshot, err error) {
	if r.opts.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}

	defer r.opts.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()

	ss, err = CreateSnapshot(agg)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	err = r.opts.snapshotter.SaveSnapshot(ctx, ss)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

type (
	// Page selects a window for paginated queries.
	Page struct {
		Offset int
		Limit  int
	}

	// PageResult carries one page of aggregates plus derived paging flags.
	PageResult[T any] struct {
		Items   []T
		Total   int
		HasNext bool
		HasPrev bool
	}

	// Spec is an in-memory predicate over a materialized aggregate.
	// Acceptable for moderate stream counts; large datasets should query a
	// read-model projection instead.
	Spec[T any] func(T) bool

	// Deleter is implemented by aggregates that support soft deletion: the
	// returned event is applied and saved, and the aggregate's transition
	// table should map it to StateDeleted.
	Deleter interface {
		DeletionEvent() any
	}

	TypedRepository[T Aggregate] interface {
		GetAggType() string
		New() T
		NewWithID(id string) T
		Load(ctx context.Context, a T, opts ...LoadOption) error
		GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
		GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
		Create(ctx context.Context, aggID string, opts ...SaveOption) (T, error)
		Delete(ctx context.Context, aggID string, opts ...SaveOption) (*SaveResult, error)
		Save(ctx context.Context, agg T, opts ...SaveOption) (*SaveResult, error)
		WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) (*SaveResult, error)
		FindBySpec(ctx context.Context, spec Spec[T], page Page) (*PageResult[T], error)
		FindAll(ctx context.Context, page Page) (*PageResult[T], error)
	}
)

type typedRepo[T Aggregate] struct {
	r     Repository
	store EventStore
	log   *slog.Logger
}

func NewTypedRepository[T Aggregate](log *slog.Logger, s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, s, reg, opts...), s)
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository, s EventStore) TypedRepository[T] {
	return &typedRepo[T]{
		r:     r,
		store: s,
		log:   log.With(slog.String("repo", fmt.Sprintf("%T", *new(T)))),
	}
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) GetAggType() string {
	a := t.New()
	return a.GetAggType()
}

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	a, err = t.GetByID(ctx, aggID, opts...)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAggregateNotFound) {
		return a, err
	}
	return t.Create(ctx, aggID)
}

// Create builds a new aggregate from its creation event and saves it.
// Fails with ALREADY_EXISTS when the stream already has events.
func (t *typedRepo[T]) Create(ctx context.Context, aggID string, opts ...SaveOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}

	a = t.New()
	exists, err := t.store.Exists(ctx, a.GetAggType(), aggID)
	if err != nil {
		return a, err
	}
	if exists {
		return a, &Error{Code: CodeAlreadyExists, AggregateType: a.GetAggType(), AggregateID: aggID}
	}

	if err = a.Create(aggID); err != nil {
		return a, err
	}
	if _, err = t.r.Save(ctx, a, opts...); err != nil {
		return a, err
	}

	t.log.Debug("created", slog.String("id", aggID))
	return a, nil
}

// Delete soft-deletes: it loads the aggregate, applies its deletion event
// and saves. The aggregate type must implement Deleter.
func (t *typedRepo[T]) Delete(ctx context.Context, aggID string, opts ...SaveOption) (*SaveResult, error) {
	a, err := t.GetByID(ctx, aggID)
	if err != nil {
		return nil, err
	}

	d, ok := any(a).(Deleter)
	if !ok {
		return nil, fmt.Errorf("aggregate %s does not support deletion", a.GetAggType())
	}

	if err := RaiseAndApply(a, d.DeletionEvent()); err != nil {
		return nil, err
	}
	return t.r.Save(ctx, a, opts...)
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) (*SaveResult, error) {
	return t.r.Save(ctx, agg, opts...)
}

// WithTransaction loads the aggregate, runs fn and saves, retrying the whole
// cycle on a concurrency conflict. Each attempt loads a fresh instance; the
// caller should reload-and-retry semantics, never the raw append.
func (t *typedRepo[T]) WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) (res *SaveResult, err error) {
	for attempt := 0; attempt <= defaultConflictRetries; attempt++ {
		var a T
		a, err = t.GetByID(ctx, aggID)
		if err != nil {
			return nil, err
		}
		if err = fn(a); err != nil {
			return nil, err
		}
		res, err = t.r.Save(ctx, a, opts...)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, err
		}
	}
	return nil, err
}

// FindBySpec materializes every aggregate of this type and filters in memory.
func (t *typedRepo[T]) FindBySpec(ctx context.Context, spec Spec[T], page Page) (*PageResult[T], error) {
	ids, err := t.streamIDs(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]T, 0)
	for _, id := range ids {
		a, err := t.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAggregateNotFound) {
				continue
			}
			return nil, err
		}
		if spec != nil && !spec(a) {
			continue
		}
		matched = append(matched, a)
	}

	return paginate(matched, page), nil
}

func (t *typedRepo[T]) FindAll(ctx context.Context, page Page) (*PageResult[T], error) {
	return t.FindBySpec(ctx, nil, page)
}

// streamIDs returns the distinct aggregate ids of this type in first-seen
// (global sequence) order.
func (t *typedRepo[T]) streamIDs(ctx context.Context) ([]string, error) {
	envs, err := t.store.Query(ctx, Query{AggregateType: t.GetAggType()})
	if err != nil {
		return nil, err
	}
	ids := ds.NewSet[string]()
	for _, e := range envs {
		ids.Add(e.AggregateID)
	}
	return ids.Values(), nil
}

func paginate[T any](items []T, page Page) *PageResult[T] {
	total := len(items)
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && start+page.Limit < total {
		end = start + page.Limit
	}
	return &PageResult[T]{
		Items:   items[start:end],
		Total:   total,
		HasNext: end < total,
		HasPrev: start > 0,
	}
}
