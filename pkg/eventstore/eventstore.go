// Package eventstore implements the core orchestrator: validation,
// saga-id assignment, atomic commit-then-publish, and one-time filtered
// subscriptions. Grounded in the teacher's pkg/store.EventStore contract and
// pkg/store.BaseRepository commit path, generalized from a single-aggregate
// repository to the full §4.1 EventStore surface (saga starters, once,
// queue, getAllEvents) the spec requires.
package eventstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coreflux/eventcore/pkg/bus"
	busmemory "github.com/coreflux/eventcore/pkg/bus/memory"
	"github.com/coreflux/eventcore/pkg/message"
	"github.com/coreflux/eventcore/pkg/storage"
)

// Option configures an EventStore at construction.
type Option func(*EventStore)

// WithValidator overrides the default event validator.
func WithValidator(v Validator) Option {
	return func(s *EventStore) { s.validator = v }
}

// WithSyncPublish makes commit await every publish before returning,
// surfacing publish errors to the caller (§4.1.1 step 5, publishAsync=false).
func WithSyncPublish() Option {
	return func(s *EventStore) { s.publishAsync = false }
}

// WithLogger overrides the logger used for async-publish error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *EventStore) { s.logger = logger }
}

// EventStore is the coordinated validation/commit/publish/subscription
// surface described in spec §4.1.
type EventStore struct {
	storage  storage.EventStorage
	snapshot storage.SnapshotStorage // optional, may be nil
	bus      bus.Bus

	validator    Validator
	publishAsync bool
	logger       *slog.Logger

	mu           sync.RWMutex
	sagaStarters map[string]struct{}
}

// New builds an EventStore. b may be nil, in which case a fresh in-memory
// bus (pkg/bus/memory) is created and used for both publish and subscribe;
// a storage backend's own subscription surface is not consulted.
func New(evStorage storage.EventStorage, snapStorage storage.SnapshotStorage, b bus.Bus, opts ...Option) *EventStore {
	s := &EventStore{
		storage:      evStorage,
		snapshot:     snapStorage,
		bus:          b,
		validator:    defaultValidator,
		publishAsync: true,
		logger:       slog.Default(),
		sagaStarters: make(map[string]struct{}),
	}
	if s.bus == nil {
		s.bus = busmemory.New(nil)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetNewID delegates to storage.
func (s *EventStore) GetNewID(ctx context.Context) (message.ID, error) {
	return s.storage.NewID(ctx)
}

// GetAggregateEvents returns the stream beginning with the latest snapshot
// (if snapshot storage is configured and a snapshot exists), followed by all
// subsequent events.
func (s *EventStore) GetAggregateEvents(ctx context.Context, aggregateID message.ID) (message.EventStream, error) {
	var afterVersion uint64
	var out message.EventStream

	if s.snapshot != nil {
		snap, ok, err := s.snapshot.LatestSnapshot(ctx, aggregateID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if ok {
			out = append(out, snap)
			if snap.AggregateVersion != nil {
				afterVersion = *snap.AggregateVersion
			}
		}
	}

	events, err := s.storage.AggregateEvents(ctx, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return append(out, events...), nil
}

// SagaEventsOptions configures GetSagaEvents.
type SagaEventsOptions struct {
	BeforeEvent message.Event
}

// GetSagaEvents returns committed events for sagaID strictly before
// opts.BeforeEvent.SagaVersion. opts.BeforeEvent.SagaVersion must be defined.
func (s *EventStore) GetSagaEvents(ctx context.Context, sagaID message.ID, opts SagaEventsOptions) (message.EventStream, error) {
	if opts.BeforeEvent.SagaVersion == nil {
		return nil, fmt.Errorf("%w: beforeEvent.sagaVersion is required", ErrInvalidArgument)
	}
	return s.GetSagaEventsBefore(ctx, sagaID, *opts.BeforeEvent.SagaVersion)
}

// GetSagaEventsBefore returns committed events for sagaID with
// SagaVersion < beforeVersion. It is the form pkg/saga dispatches through,
// since a saga handler only ever has the triggering version in hand, not a
// full SagaEventsOptions.
func (s *EventStore) GetSagaEventsBefore(ctx context.Context, sagaID message.ID, beforeVersion uint64) (message.EventStream, error) {
	events, err := s.storage.SagaEvents(ctx, sagaID, beforeVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return events, nil
}

// GetAllEvents returns every committed event, optionally filtered by type.
func (s *EventStore) GetAllEvents(ctx context.Context, eventTypes []string) (message.EventStream, error) {
	events, err := s.storage.AllEvents(ctx, eventTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return events, nil
}

// RegisterSagaStarters adds eventTypes to the set of types that mint a new
// SagaID on commit. Idempotent: registering the same type twice leaves the
// set unchanged.
func (s *EventStore) RegisterSagaStarters(eventTypes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range eventTypes {
		s.sagaStarters[t] = struct{}{}
	}
}

func (s *EventStore) isSagaStarter(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sagaStarters[eventType]
	return ok
}

// On forwards a subscription to the underlying bus.
func (s *EventStore) On(msgType string, handler bus.Handler) (bus.Subscription, error) {
	return s.bus.On(msgType, handler)
}

// Queue returns a named single-consumer queue if the bus supports it.
func (s *EventStore) Queue(name string) (bus.Queue, error) {
	qc, ok := s.bus.(bus.QueueCapable)
	if !ok {
		return nil, &UnsupportedCapabilityError{Capability: "queue"}
	}
	return qc.Queue(name)
}

// Commit runs the §4.1.1 algorithm: separate an optional snapshot, validate
// the rest, assign saga IDs to starter events, persist both concurrently,
// then publish. It returns the committed non-snapshot stream.
func (s *EventStore) Commit(ctx context.Context, events message.EventStream) (message.EventStream, error) {
	var snapshotEvent *message.Event
	rest := make(message.EventStream, 0, len(events))

	for i := range events {
		e := events[i]
		if message.IsSnapshot(e) {
			if snapshotEvent != nil {
				return nil, ErrMultipleSnapshots
			}
			ev := e
			snapshotEvent = &ev
			continue
		}
		rest = append(rest, e)
	}

	if snapshotEvent != nil && s.snapshot == nil {
		return nil, ErrSnapshotsUnsupported
	}

	for i, e := range rest {
		if err := s.validator(e); err != nil {
			return nil, err
		}
		assigned, err := s.assignSagaStarter(ctx, e)
		if err != nil {
			return nil, err
		}
		rest[i] = assigned
	}

	if err := s.persist(ctx, rest, snapshotEvent); err != nil {
		return nil, err
	}

	if err := s.publish(ctx, rest); err != nil {
		return rest, fmt.Errorf("%w: %v", ErrPublishFailure, err)
	}

	return rest, nil
}

// assignSagaStarter implements §4.1.1 step 3.
func (s *EventStore) assignSagaStarter(ctx context.Context, e message.Event) (message.Event, error) {
	if !s.isSagaStarter(e.Type) {
		return e, nil
	}
	if !message.IsZero(e.SagaID) {
		return e, ErrSagaAlreadyStarted
	}

	newID, err := s.storage.NewID(ctx)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	e.SagaID = newID
	e.SagaVersion = message.Ptr(uint64(0))
	return e, nil
}

// persist durably writes non-snapshot events and the optional snapshot
// concurrently; both must succeed.
func (s *EventStore) persist(ctx context.Context, events message.EventStream, snapshot *message.Event) error {
	var eventsErr, snapshotErr error
	var wg sync.WaitGroup

	if len(events) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventsErr = s.storage.AppendEvents(ctx, events)
		}()
	}

	if snapshot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshotErr = s.snapshot.SaveSnapshot(ctx, *snapshot)
		}()
	}

	wg.Wait()

	switch {
	case eventsErr != nil && snapshotErr != nil:
		return fmt.Errorf("%w: events: %w, snapshot: %v", ErrCommitPartialFailure, eventsErr, snapshotErr)
	case eventsErr != nil:
		if snapshot != nil {
			return fmt.Errorf("%w: %w", ErrCommitPartialFailure, eventsErr)
		}
		return fmt.Errorf("%w: %w", ErrStorageFailure, eventsErr)
	case snapshotErr != nil:
		return fmt.Errorf("%w: %v", ErrCommitPartialFailure, snapshotErr)
	}
	return nil
}

// publish delivers rest to the bus in input order. In synchronous mode
// (publishAsync=false, set via WithSyncPublish) it awaits every publish and
// returns the first error encountered, per §4.1.1 step 5 / §7. In
// asynchronous mode it publishes in the background and only logs a failure,
// since the caller has already moved on.
func (s *EventStore) publish(ctx context.Context, rest message.EventStream) error {
	doPublish := func() error {
		for _, e := range rest {
			if err := s.bus.Publish(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}

	if !s.publishAsync {
		return doPublish()
	}

	go func() {
		if err := doPublish(); err != nil {
			s.logger.ErrorContext(ctx, "async publish failed", slog.Any("error", err))
		}
	}()
	return nil
}
