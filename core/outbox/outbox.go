// Package outbox provides a durable staging area for events awaiting
// publication, decoupling "committed to the log" from "delivered to
// subscribers". Delivery is at-least-once: the publisher must be idempotent
// or de-dupe by event id.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/cqrs-go/core/es"
)

var (
	ErrEntryNotFound     = errors.New("outbox entry not found")
	ErrIllegalTransition = errors.New("illegal outbox status transition")
)

// Status is the outbox entry state machine:
//
//	PENDING -> PROCESSING -> PUBLISHED
//	                      -> FAILED -> PROCESSING (scheduled retry, while
//	                                   retryCount < maxRetries)
//
// FAILED with exhausted retries is terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

// DefaultMaxRetries bounds scheduled retries per entry.
const DefaultMaxRetries = 5

// Entry wraps one committed event on its way out. At most one entry exists
// per event.
type Entry struct {
	ID          uuid.UUID   `json:"id"`
	Event       es.Envelope `json:"event"`
	Status      Status      `json:"status"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	NextRetryAt time.Time   `json:"next_retry_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	RoutingKey  string      `json:"routing_key,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// Retryable reports whether a FAILED entry may still be rescheduled.
func (e *Entry) Retryable() bool { return e.RetryCount < e.MaxRetries }

// FromEnvelope stages one committed envelope for publication.
func FromEnvelope(env es.Envelope, routingKey string) *Entry {
	return &Entry{
		ID:         uuid.New(),
		Event:      env,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		RoutingKey: routingKey,
		CreatedAt:  time.Now(),
	}
}

// FromEnvelopes stages a batch, preserving order.
func FromEnvelopes(envs []es.Envelope, routingKey string) []*Entry {
	out := make([]*Entry, 0, len(envs))
	for _, env := range envs {
		out = append(out, FromEnvelope(env, routingKey))
	}
	return out
}

// Publisher is the external delivery boundary. Implementations must tolerate
// redelivery of the same event.
type Publisher interface {
	Publish(ctx context.Context, entry *Entry) error
	PublishBatch(ctx context.Context, entries []*Entry) error
}

// Store persists outbox entries. Implementations enforce the Status state
// machine; an illegal transition returns ErrIllegalTransition.
type Store interface {
	// Enqueue stages entries as PENDING.
	Enqueue(ctx context.Context, entries ...*Entry) error

	// FetchPending returns up to limit PENDING entries in creation order
	// and marks them PROCESSING.
	FetchPending(ctx context.Context, limit int) ([]*Entry, error)

	// FetchDueRetries returns up to limit FAILED entries whose NextRetryAt
	// has passed and that have retries left, marking them PROCESSING.
	FetchDueRetries(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// MarkPublished transitions PROCESSING entries to PUBLISHED.
	MarkPublished(ctx context.Context, ids ...uuid.UUID) error

	// MarkFailed transitions a PROCESSING entry to FAILED, recording the
	// error and the scheduled retry time.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error

	// PurgePublished deletes PUBLISHED entries older than the given time.
	// PENDING and FAILED entries are never purged.
	PurgePublished(ctx context.Context, olderThan time.Time) (int, error)

	// Stats returns the number of entries per status.
	Stats(ctx context.Context) (map[Status]int, error)
}
