// Package memory implements storage.EventStorage and storage.SnapshotStorage
// entirely in process memory: the reference backend used by every test in
// this module and a working default for callers who don't need durability
// across restarts. Grounded in the teacher's pkg/store layering, generalized
// off protobuf-typed events onto the opaque message.Message model.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreflux/eventcore/pkg/idgen"
	"github.com/coreflux/eventcore/pkg/message"
	"github.com/coreflux/eventcore/pkg/storage"
)

// EventStorage is an in-memory, mutex-guarded event log.
type EventStorage struct {
	gen idgen.Generator

	mu          sync.RWMutex
	byAggregate map[string][]message.Event
	bySaga      map[string][]message.Event
	all         []message.Event
}

// New creates an empty in-memory EventStorage using gen for NewID, or
// idgen.Default if gen is nil.
func New(gen idgen.Generator) *EventStorage {
	if gen == nil {
		gen = idgen.Default
	}
	return &EventStorage{
		gen:         gen,
		byAggregate: make(map[string][]message.Event),
		bySaga:      make(map[string][]message.Event),
	}
}

func key(id message.ID) string {
	return fmt.Sprintf("%v", id)
}

// NewID mints a fresh identifier.
func (s *EventStorage) NewID(ctx context.Context) (message.ID, error) {
	return s.gen.NewID(), nil
}

// AppendEvents persists events atomically: every event is added to the
// aggregate/saga/global indices under a single lock, or none are added at
// all if any bookkeeping step fails. Events carrying an AggregateVersion
// that collides with one already committed for the same aggregate abort
// the whole batch with storage.ErrConcurrencyConflict.
func (s *EventStorage) AppendEvents(ctx context.Context, events message.EventStream) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]map[uint64]bool, len(events))
	for _, e := range events {
		if message.IsZero(e.AggregateID) || e.AggregateVersion == nil {
			continue
		}
		k := key(e.AggregateID)
		for _, existing := range s.byAggregate[k] {
			if existing.AggregateVersion != nil && *existing.AggregateVersion == *e.AggregateVersion {
				return fmt.Errorf("%w: aggregate %v version %d", storage.ErrConcurrencyConflict, e.AggregateID, *e.AggregateVersion)
			}
		}
		if seen[k] == nil {
			seen[k] = make(map[uint64]bool)
		}
		if seen[k][*e.AggregateVersion] {
			return fmt.Errorf("%w: aggregate %v version %d", storage.ErrConcurrencyConflict, e.AggregateID, *e.AggregateVersion)
		}
		seen[k][*e.AggregateVersion] = true
	}

	for _, e := range events {
		if !message.IsZero(e.AggregateID) {
			k := key(e.AggregateID)
			s.byAggregate[k] = append(s.byAggregate[k], e)
		}
		if !message.IsZero(e.SagaID) {
			k := key(e.SagaID)
			s.bySaga[k] = append(s.bySaga[k], e)
		}
		s.all = append(s.all, e)
	}
	return nil
}

// AggregateEvents returns events for aggregateID with AggregateVersion >
// afterVersion.
func (s *EventStorage) AggregateEvents(ctx context.Context, aggregateID message.ID, afterVersion uint64) (message.EventStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byAggregate[key(aggregateID)]
	out := make(message.EventStream, 0, len(events))
	for _, e := range events {
		if e.AggregateVersion != nil && *e.AggregateVersion > afterVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// SagaEvents returns events for sagaID with SagaVersion < beforeVersion.
func (s *EventStorage) SagaEvents(ctx context.Context, sagaID message.ID, beforeVersion uint64) (message.EventStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.bySaga[key(sagaID)]
	out := make(message.EventStream, 0, len(events))
	for _, e := range events {
		if e.SagaVersion != nil && *e.SagaVersion < beforeVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// AllEvents returns every committed event, optionally filtered by type.
func (s *EventStorage) AllEvents(ctx context.Context, eventTypes []string) (message.EventStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(eventTypes) == 0 {
		out := make(message.EventStream, len(s.all))
		copy(out, s.all)
		return out, nil
	}

	wanted := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		wanted[t] = true
	}

	out := make(message.EventStream, 0, len(s.all))
	for _, e := range s.all {
		if wanted[e.Type] {
			out = append(out, e)
		}
	}
	return out, nil
}

// AggregateVersion returns the highest committed AggregateVersion for
// aggregateID, or 0 if it has never been mutated.
func (s *EventStorage) AggregateVersion(ctx context.Context, aggregateID message.ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byAggregate[key(aggregateID)]
	var version uint64
	for _, e := range events {
		if e.AggregateVersion != nil && *e.AggregateVersion > version {
			version = *e.AggregateVersion
		}
	}
	return version, nil
}

// Close is a no-op for the in-memory backend.
func (s *EventStorage) Close() error { return nil }

// SnapshotStorage is an in-memory, mutex-guarded latest-snapshot store.
type SnapshotStorage struct {
	mu        sync.RWMutex
	snapshots map[string]message.Event
}

// NewSnapshotStorage creates an empty snapshot store.
func NewSnapshotStorage() *SnapshotStorage {
	return &SnapshotStorage{snapshots: make(map[string]message.Event)}
}

// LatestSnapshot returns the most recent snapshot for aggregateID.
func (s *SnapshotStorage) LatestSnapshot(ctx context.Context, aggregateID message.ID) (message.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snapshots[key(aggregateID)]
	return e, ok, nil
}

// SaveSnapshot replaces any prior snapshot for the same aggregate.
func (s *SnapshotStorage) SaveSnapshot(ctx context.Context, snapshot message.Event) error {
	if message.IsZero(snapshot.AggregateID) {
		return fmt.Errorf("snapshot storage: aggregate id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key(snapshot.AggregateID)] = snapshot
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *SnapshotStorage) Close() error { return nil }
