package es

import (
	"context"
	"encoding/json"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/cqrs-go/internal/reflector"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	startVersionOption valueOption[Version]
	endVersionOption   valueOption[Version]
	StartSeqOption     valueOption[uint64]

	eventStoreLoadOptions struct {
		startVersion Version
		endVersion   Version
		startSeq     uint64
	}

	storeLoadOptionsReceiver interface {
		SetStartVersion(Version)
		SetEndVersion(Version)
		SetStartSeq(uint64)
	}

	StoreLoadOption interface {
		ApplyToStoreLoadOptions(storeLoadOptionsReceiver)
	}
)

func (e *eventStoreLoadOptions) SetStartVersion(v Version) { e.startVersion = v }
func (e *eventStoreLoadOptions) SetEndVersion(v Version)   { e.endVersion = v }
func (e *eventStoreLoadOptions) SetStartSeq(seq uint64)    { e.startSeq = seq }

func WithStartAtVersion(startVersion Version) StoreLoadOption {
	return startVersionOption{startVersion}
}
func WithEndAtVersion(endVersion Version) StoreLoadOption { return endVersionOption{endVersion} }
func WithStartSeq(startSeq uint64) StartSeqOption         { return StartSeqOption{startSeq} }

func (o startVersionOption) ApplyToStoreLoadOptions(r storeLoadOptionsReceiver) {
	r.SetStartVersion(o.v)
}
func (o endVersionOption) ApplyToStoreLoadOptions(r storeLoadOptionsReceiver) {
	r.SetEndVersion(o.v)
}
func (o StartSeqOption) ApplyToStoreLoadOptions(r storeLoadOptionsReceiver) {
	r.SetStartSeq(o.v)
}

// Query selects envelopes across streams by global sequence order.
// Zero-valued fields are ignored.
type Query struct {
	AggregateID   string
	AggregateType string
	EventType     string
	// FromSeq is the minimum (exclusive lower bound is FromSeq-1; i.e. results
	// have Seq >= FromSeq).
	FromSeq uint64
	// From/To bound OccurredAt. Zero times are open bounds.
	From time.Time
	To   time.Time
	// Limit caps the number of returned envelopes. 0 means no limit.
	Limit int
}

func (q Query) Match(e Envelope) bool {
	if q.AggregateID != "" && e.AggregateID != q.AggregateID {
		return false
	}
	if q.AggregateType != "" && e.AggregateType != q.AggregateType {
		return false
	}
	if q.EventType != "" && e.Type != q.EventType {
		return false
	}
	if q.FromSeq > 0 && e.Seq < q.FromSeq {
		return false
	}
	if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.OccurredAt.After(q.To) {
		return false
	}
	return true
}

type (
	// StreamPosition is the position assigned to one appended envelope.
	StreamPosition struct {
		Seq     uint64  `json:"seq"`
		Version Version `json:"version"`
	}

	StoreAppendResult struct {
		LastSeq   uint64
		Positions []StreamPosition
	}

	// BulkOperation is one aggregate's append within an AppendBulk call.
	BulkOperation struct {
		AggregateType   string
		AggregateID     string
		ExpectedVersion Version
		Events          []Envelope
	}

	// EventStore stores and loads envelopes per aggregate stream and provides
	// a globally ordered view across streams.
	//
	// Append is all-or-nothing: either every envelope is persisted with a
	// contiguous stream version and an increasing global sequence, or none is.
	// When expectedVersion does not match the current stream head, Append
	// fails with a CONCURRENCY_CONFLICT error carrying both versions.
	EventStore interface {
		Stream

		// Load returns the stream's envelopes in version order. A missing
		// stream loads as an empty slice, not as an error.
		Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope) (*StoreAppendResult, error)

		// AppendBulk applies several aggregates' appends as a single
		// all-or-nothing unit. Any version conflict rolls back the whole batch.
		AppendBulk(ctx context.Context, ops []BulkOperation) ([]StoreAppendResult, error)

		// Query returns envelopes matching q in global sequence order.
		Query(ctx context.Context, q Query) ([]Envelope, error)

		// CurrentVersion returns the stream head version, 0 when absent.
		CurrentVersion(ctx context.Context, aggType, aggID string) (Version, error)
		Exists(ctx context.Context, aggType, aggID string) (bool, error)

		// MaxSeq returns the highest assigned global sequence, 0 when empty.
		MaxSeq(ctx context.Context) (uint64, error)
	}
)

// AppendEvents wraps plain events into envelopes and appends them with the
// given expected version. The envelope versions are derived from expect.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	aggType string,
	aggID string,
	expect Version,
	events ...any,
) (*StoreAppendResult, error) {
	return AppendEventsMeta(ctx, store, aggType, aggID, expect, Metadata{}, events...)
}

// AppendEventsMeta is AppendEvents with explicit envelope metadata.
func AppendEventsMeta(
	ctx context.Context,
	store EventStore,
	aggType string,
	aggID string,
	expect Version,
	meta Metadata,
	events ...any,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, Envelope{
			ID:            gonanoid.Must(),
			Type:          reflector.TypeInfoOf(ev).Name,
			AggregateID:   aggID,
			AggregateType: aggType,
			Metadata:      meta,
			Data:          data,
			OccurredAt:    time.Now(),
			Version:       expect + Version(i+1),
		})
	}
	return store.Append(ctx, aggType, aggID, expect, envelopes)
}

// LoadRange is the resolved form of a set of StoreLoadOptions, for store
// implementations.
type LoadRange struct {
	StartVersion Version
	EndVersion   Version
	StartSeq     uint64
}

func ResolveLoadOptions(opts ...StoreLoadOption) LoadRange {
	resolved := &eventStoreLoadOptions{}
	for _, o := range opts {
		o.ApplyToStoreLoadOptions(resolved)
	}
	return LoadRange{
		StartVersion: resolved.startVersion,
		EndVersion:   resolved.endVersion,
		StartSeq:     resolved.startSeq,
	}
}

// ValidateBatch checks that all envelopes belong to one stream and carry
// contiguous versions starting right after expect.
func ValidateBatch(aggType, aggID string, expect Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return NewError(CodeInvalidEventSequence, "event %d: %s", i, err.Error())
		}
		if e.AggregateID != aggID || e.AggregateType != aggType {
			return NewError(CodeInvalidEventSequence,
				"event %d belongs to %s/%s, batch is %s/%s",
				i, e.AggregateType, e.AggregateID, aggType, aggID)
		}
		if want := expect + Version(i+1); e.Version != want {
			return NewError(CodeInvalidEventSequence,
				"event %d: version %d, want %d", i, e.Version, want)
		}
	}
	return nil
}
