package estests

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/cqrs-go/core/es"
)

// === Test aggregate ===

type (
	Incremented struct{ By int }
	Exploded    struct{}
	Removed     struct{}

	TestAgg struct {
		es.BaseAggregate
		count int
	}
)

func NewTestAgg(id string) *TestAgg {
	a := &TestAgg{}
	a.SetID(id)
	es.TransitionOn[Removed](&a.BaseAggregate, es.StateDeleted)
	return a
}

func (a *TestAgg) GetAggType() string { return "test_agg" }

func (a *TestAgg) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[Incremented](),
		es.Event[Exploded](),
		es.Event[Removed](),
	)
}

func (a *TestAgg) Apply(evt any) error {
	switch e := evt.(type) {
	case *es.AggregateCreatedEvent:
		return a.BaseAggregate.Apply(evt)
	case *Incremented:
		a.count += e.By
	case *Exploded:
		return fmt.Errorf("exploded")
	case *Removed:
	default:
		return fmt.Errorf("unknown event: %T", evt)
	}
	return nil
}

func (a *TestAgg) Inc() error         { return es.RaiseAndApply(a, &Incremented{By: 1}) }
func (a *TestAgg) Count() int         { return a.count }
func (a *TestAgg) DeletionEvent() any { return &Removed{} }

var (
	_ es.Aggregate = (*TestAgg)(nil)
	_ es.Deleter   = (*TestAgg)(nil)
)

// === Helpers ===

func testLog() *slog.Logger { return slog.Default() }

type testEnv struct {
	store       *es.InMemoryStore
	registry    *es.EventRegistry
	snapshotter *es.InMemorySnapshotter
	repo        es.TypedRepository[*TestAgg]
}

func newTestEnv(t *testing.T, opts ...es.RepositoryOption) *testEnv {
	te := &testEnv{
		store:       es.NewInMemoryStore(),
		registry:    es.NewRegistry(),
		snapshotter: es.NewInMemorySnapshotter(),
	}
	t.Cleanup(te.store.Close)

	NewTestAgg("").Register(te.registry)
	te.repo = es.NewTypedRepository[*TestAgg](slog.Default(), te.store, te.registry, opts...)
	return te
}

func envelope(aggType, aggID string, v es.Version, eventType string) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          eventType,
		AggregateType: aggType,
		AggregateID:   aggID,
		Version:       v,
		OccurredAt:    time.Now(),
		Data:          []byte(`{"by":1}`),
	}
}

func envelopes(aggType, aggID string, from, n es.Version, eventType string) []es.Envelope {
	out := make([]es.Envelope, 0, n)
	for i := es.Version(1); i <= n; i++ {
		out = append(out, envelope(aggType, aggID, from+i, eventType))
	}
	return out
}
