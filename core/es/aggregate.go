package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/cqrs-go/core/es/rules"
)

// LifecycleState is the coarse aggregate state machine. State transitions are
// driven only by applied events via an explicit per-aggregate transition
// table; there is no inference from event type naming.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateDeleted  LifecycleState = "deleted"
	StateArchived LifecycleState = "archived"
)

// Applier is the interface for types that can apply events to update their state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the core interface for event-sourced domain objects.
// It defines the contract that all aggregate roots must implement to work
// with the Repository for loading and persisting state through events.
//
// An aggregate maintains:
//   - Identity: type and ID that uniquely identify the aggregate stream
//   - Version: the current version for optimistic concurrency control
//   - Sequence: the global stream sequence number of the last applied event
//   - Lifecycle state: active/deleted/archived, driven by applied events
//   - Uncommitted events: events raised but not yet persisted
//   - Side effects: post-commit actions collected for the caller to dispatch
//
// The typical lifecycle is:
//  1. Create a new aggregate or load an existing one via Repository
//  2. Execute domain logic that calls Raise() to record events
//  3. Apply() is called to update internal state from each event
//  4. Save via Repository which persists uncommitted events and calls ClearUncommitted()
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream identification.
	GetAggType() string
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	// SetID sets the aggregate ID. Typically called during creation.
	SetID(string)

	// GetVersion returns the current version (number of events applied).
	GetVersion() Version
	setVersion(Version)

	// GetSeq returns the global stream sequence of the last applied event.
	GetSeq() uint64
	setSeq(uint64)

	// State returns the current lifecycle state.
	State() LifecycleState
	applyTransition(event any)

	// Create initializes a new aggregate with the given ID.
	Create(id string) error

	// Register registers event types with the provided Registrar.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply updates the aggregate state from an event.
	Apply(event any) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// ClearUncommitted removes all uncommitted events after successful save.
	ClearUncommitted()

	// SideEffects returns post-commit actions collected during command
	// execution. They are handed to the caller by Repository.Save.
	SideEffects() []SideEffect
	ClearSideEffects()
}

// SideEffect is a post-commit action (e.g. a notification) produced during
// command execution. It is never executed by the core; Repository.Save
// returns collected side effects for the caller to dispatch.
type SideEffect struct {
	Name    string
	Payload any
}

type AggregateCreatedEvent struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (e AggregateCreatedEvent) Validate() error {
	if e.CreatedAt.IsZero() {
		return errors.New("created at time is zero")
	}
	if e.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

// BaseAggregate is an embeddable helper that tracks version, lifecycle state,
// uncommitted events and side effects.
type BaseAggregate struct {
	CreatedAt time.Time `json:"created_at"`

	id          string
	version     Version
	seq         uint64
	state       LifecycleState
	transitions map[string]LifecycleState
	uncommitted []any
	sideEffects []SideEffect
}

func (b *BaseAggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateCreatedEvent:
		b.CreatedAt = e.CreatedAt
		b.id = e.ID
		return nil
	}
	return fmt.Errorf("unknown base aggregate event: %T", evt)
}

func (b *BaseAggregate) IsCreated() bool         { return b.CreatedAt.IsZero() == false }
func (b *BaseAggregate) GetCreatedAt() time.Time { return b.CreatedAt }

func (b *BaseAggregate) Create(id string) error {
	if b.IsCreated() {
		return fmt.Errorf("aggregate already created")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return RaiseAndApply(b, &AggregateCreatedEvent{ID: id, CreatedAt: time.Now()})
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetSeq() uint64       { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

func (b *BaseAggregate) State() LifecycleState {
	if b.state == "" {
		return StateActive
	}
	return b.state
}

// TransitionOn declares that applying an event of type T moves the aggregate
// into the given lifecycle state. Call from the aggregate's constructor or
// Register method.
func TransitionOn[T any](b *BaseAggregate, to LifecycleState) {
	if b.transitions == nil {
		b.transitions = map[string]LifecycleState{}
	}
	b.transitions[getEventTypeOf(new(T))] = to
}

func (b *BaseAggregate) applyTransition(event any) {
	if b.transitions == nil {
		return
	}
	if to, ok := b.transitions[getEventTypeOf(event)]; ok {
		b.state = to
	}
}

// Raise records an event as uncommitted.
// (Typically you call Raise+Apply together via RaiseAndApply.)
func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// Effect collects a post-commit side effect.
func (b *BaseAggregate) Effect(name string, payload any) {
	b.sideEffects = append(b.sideEffects, SideEffect{Name: name, Payload: payload})
}

func (b *BaseAggregate) SideEffects() []SideEffect {
	out := make([]SideEffect, len(b.sideEffects))
	copy(out, b.sideEffects)
	return out
}

func (b *BaseAggregate) ClearSideEffects() { b.sideEffects = nil }

// baseState is the rollback capture for all-or-nothing apply.
type baseState struct {
	version     Version
	seq         uint64
	state       LifecycleState
	uncommitted []any
	sideEffects []SideEffect
}

func (b *BaseAggregate) captureBase() baseState {
	return baseState{
		version:     b.version,
		seq:         b.seq,
		state:       b.state,
		uncommitted: append([]any(nil), b.uncommitted...),
		sideEffects: append([]SideEffect(nil), b.sideEffects...),
	}
}

func (b *BaseAggregate) restoreBase(s baseState) {
	b.version = s.version
	b.seq = s.seq
	b.state = s.state
	b.uncommitted = s.uncommitted
	b.sideEffects = s.sideEffects
}

type baseCapturer interface {
	captureBase() baseState
	restoreBase(baseState)
}

// === Helpers ===

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
	applyTransition(event any)
}

// RaiseAndApply records the events as uncommitted and applies them to mutate
// state. Application is all-or-nothing: on any failure the aggregate is
// restored to its captured state, so callers never observe a partial apply.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	if len(events) == 0 {
		return
	}

	// validate
	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			err = ev.Validate()
			if err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	restore, err := captureAggregate(a)
	if err != nil {
		return err
	}

	for _, e := range events {
		a.Raise(e)
		if err = a.Apply(e); err != nil {
			if restoreErr := restore(); restoreErr != nil {
				return errors.Join(err, restoreErr)
			}
			return err
		}
		a.applyTransition(e)
	}
	return nil
}

// captureAggregate snapshots the full aggregate state (domain fields via
// Snapshottable or JSON, base fields directly) and returns a restore func.
func captureAggregate(a any) (func() error, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := a.(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(a)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture aggregate state: %w", err)
	}

	var base baseState
	capturer, hasBase := a.(baseCapturer)
	if hasBase {
		base = capturer.captureBase()
	}

	return func() error {
		var restoreErr error
		if s, ok := a.(Snapshottable); ok {
			restoreErr = s.RestoreSnapshot(data)
		} else {
			restoreErr = json.Unmarshal(data, a)
		}
		if restoreErr != nil {
			return fmt.Errorf("failed to restore aggregate state: %w", restoreErr)
		}
		if hasBase {
			capturer.restoreBase(base)
		}
		return nil
	}, nil
}

// Execute runs a command handler against an aggregate.
//
// It refuses execution unless the aggregate is active (override with
// WithAllowInactive), evaluates business rules first, and applies the
// handler's events all-or-nothing. The handler returns the events to apply
// and never mutates state directly.
func Execute[T Aggregate](agg T, handler func(T) ([]any, error), opts ...ExecuteOption[T]) error {
	options := executeOptions[T]{}
	for _, opt := range opts {
		opt(&options)
	}

	if !options.allowInactive && agg.State() != StateActive {
		return NewError(CodeBusinessRuleViolation,
			"aggregate %s/%s is %s", agg.GetAggType(), agg.GetID(), agg.State())
	}

	if v := rules.Eval(agg, options.rules...); v != nil {
		return NewRuleViolationError(v.Rule, v.Message)
	}

	events, err := handler(agg)
	if err != nil {
		return err
	}
	if options.maxEvents > 0 && len(events) > options.maxEvents {
		return NewError(CodeInvalidEventSequence,
			"handler produced %d events, max is %d", len(events), options.maxEvents)
	}

	return RaiseAndApply(agg, events...)
}

type executeOptions[T Aggregate] struct {
	rules         []rules.Rule[T]
	maxEvents     int
	allowInactive bool
}

type ExecuteOption[T Aggregate] func(*executeOptions[T])

func WithRules[T Aggregate](rs ...rules.Rule[T]) ExecuteOption[T] {
	return func(o *executeOptions[T]) { o.rules = append(o.rules, rs...) }
}

func WithMaxEvents[T Aggregate](n int) ExecuteOption[T] {
	return func(o *executeOptions[T]) { o.maxEvents = n }
}

// WithAllowInactive permits command execution against deleted or archived
// aggregates (e.g. a restore command).
func WithAllowInactive[T Aggregate]() ExecuteOption[T] {
	return func(o *executeOptions[T]) { o.allowInactive = true }
}

// LoadFromEvents rehydrates agg by replaying stored envelopes in order.
// The event list must be non-empty and versions must be contiguous starting
// right after the aggregate's current version; a gap is a defect, not a
// business error. The resulting aggregate has no uncommitted events.
func LoadFromEvents(agg Aggregate, dec Decoder, events []Envelope) error {
	if len(events) == 0 {
		return NewError(CodeInvalidEventSequence, "cannot load %s from empty event list", agg.GetAggType())
	}
	for _, e := range events {
		expect := agg.GetVersion() + 1
		if e.Version != expect {
			return NewError(CodeInvalidEventSequence,
				"%s/%s: expect version %d, got %d", agg.GetAggType(), agg.GetID(), expect, e.Version)
		}

		evt, err := dec.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}
		agg.applyTransition(evt)
		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}
	agg.SetID(events[0].AggregateID)
	agg.ClearUncommitted()
	return nil
}
