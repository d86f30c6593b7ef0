// Package es provides the event-sourcing core: an append-only, versioned
// event store with optimistic concurrency, aggregate reconstruction, and
// snapshot caching.
//
// # Overview
//
// Application state is stored as a sequence of immutable events rather than
// as mutable rows. Each aggregate owns one stream; within a stream, versions
// are contiguous starting at 1. A global sequence totally orders events
// across all streams and drives projections and the outbox.
//
// # Core Components
//
// Aggregate: the domain object that encapsulates business logic and state
// changes. Events are raised within aggregates and applied to update internal
// state. Use [BaseAggregate] as an embeddable helper that tracks version,
// lifecycle state, uncommitted events and side effects.
//
//	type Order struct {
//	    es.BaseAggregate
//	    Total int
//	}
//
//	func (o *Order) AddItem(price int) error {
//	    return es.RaiseAndApply(o, &ItemAdded{Price: price})
//	}
//
// EventStore: the persistence layer. [EventStore.Load] retrieves a stream,
// [EventStore.Append] persists new events with optimistic concurrency
// control, [EventStore.Query] reads across streams in global order. Use
// [NewInMemoryStore] for testing or the adapters/postgres package for
// production storage.
//
// Repository: the application-level interface for working with aggregates.
// It handles loading (optionally snapshot + tail replay) and saving with an
// expected version. Use [NewTypedRepository] for type-safe operations:
//
//	repo := es.NewTypedRepository[*Order](log, store, registry)
//	order, err := repo.GetByID(ctx, "order-1")
//	order.AddItem(100)
//	res, err := repo.Save(ctx, order)
//
// Consumer: processes committed events from the store for building read
// models or triggering side effects. Supports checkpointing so no event is
// double-delivered across restarts, and live mode detection to distinguish
// historical replay from real-time events.
//
// # Concurrency
//
// Appends to different aggregates run fully in parallel; contention is
// scoped to a single aggregate for the duration of the
// check-version-then-insert critical section. Two concurrent appends with
// the same expected version resolve deterministically: exactly one wins,
// the other receives a CONCURRENCY_CONFLICT carrying both versions.
package es
