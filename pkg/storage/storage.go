// Package storage defines the durable persistence contracts EventStore is
// built on: EventStorage (append + indexed read) and the optional
// SnapshotStorage. Concrete backends — in-memory, SQLite, anything
// implementing these interfaces — are external collaborators; this package only
// fixes the contract, grounded in the teacher's pkg/store.EventStore and
// pkg/store.SnapshotStore interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/coreflux/eventcore/pkg/message"
)

// ErrConcurrencyConflict is returned by EventStorage.AppendEvents when a
// batch's AggregateVersion collides with an already-committed version for
// the same aggregate: the caller loaded a stale history and should reload
// and retry.
var ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version already committed")

// EventStorage is the durable append-only log EventStore commits through.
type EventStorage interface {
	// NewID mints a fresh identifier, used for new aggregates and for
	// saga-starter assignment.
	NewID(ctx context.Context) (message.ID, error)

	// AppendEvents durably persists events for a single commit batch.
	// Atomic over the batch: all events are visible, or none are.
	AppendEvents(ctx context.Context, events message.EventStream) error

	// AggregateEvents returns events for aggregateID strictly after
	// afterVersion (0 = from the beginning), in commit order.
	AggregateEvents(ctx context.Context, aggregateID message.ID, afterVersion uint64) (message.EventStream, error)

	// SagaEvents returns committed events for sagaID with SagaVersion <
	// beforeVersion, in commit order.
	SagaEvents(ctx context.Context, sagaID message.ID, beforeVersion uint64) (message.EventStream, error)

	// AllEvents returns every committed event across all aggregates, in
	// commit order, optionally filtered by type. The returned sequence is
	// finite, forward-only and single-pass.
	AllEvents(ctx context.Context, eventTypes []string) (message.EventStream, error)

	// AggregateVersion returns the current version of aggregateID, or 0 if
	// it has never been mutated.
	AggregateVersion(ctx context.Context, aggregateID message.ID) (uint64, error)

	// Close releases storage resources.
	Close() error
}

// SnapshotStorage is the optional latest-snapshot key/value store.
type SnapshotStorage interface {
	// LatestSnapshot returns the most recent snapshot event for
	// aggregateID, or the zero Event and false if none exists.
	LatestSnapshot(ctx context.Context, aggregateID message.ID) (message.Event, bool, error)

	// SaveSnapshot persists snapshot, replacing any prior snapshot for the
	// same AggregateID.
	SaveSnapshot(ctx context.Context, snapshot message.Event) error

	// Close releases storage resources.
	Close() error
}
