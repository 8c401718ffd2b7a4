// Package handler implements AggregateCommandHandler: the §4.2 component
// that loads an aggregate from the event store, asks it to Handle a
// command, appends a snapshot when the aggregate requests one, and commits
// the result. Grounded in the teacher's pkg/eventsourcing.BaseRepository
// Save/SaveWithCommand path and its RetryOnConflict helper.
package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/coreflux/eventcore/pkg/aggregate"
	"github.com/coreflux/eventcore/pkg/eventstore"
	"github.com/coreflux/eventcore/pkg/message"
	"github.com/coreflux/eventcore/pkg/storage"
)

// Store is the subset of *eventstore.EventStore the handler depends on.
type Store interface {
	GetAggregateEvents(ctx context.Context, aggregateID message.ID) (message.EventStream, error)
	GetNewID(ctx context.Context) (message.ID, error)
	Commit(ctx context.Context, events message.EventStream) (message.EventStream, error)
}

// Option configures an AggregateCommandHandler.
type Option func(*AggregateCommandHandler)

// WithMaxRetries overrides the default concurrency-conflict retry budget.
func WithMaxRetries(n int) Option {
	return func(h *AggregateCommandHandler) { h.maxRetries = n }
}

// AggregateCommandHandler loads the target aggregate, hands the command to
// it, and commits whatever events (and, if requested, snapshot) result.
type AggregateCommandHandler struct {
	store      Store
	registry   *aggregate.Registry
	maxRetries int
}

// New builds an AggregateCommandHandler over store, routing commands
// through registry.
func New(store Store, registry *aggregate.Registry, opts ...Option) *AggregateCommandHandler {
	h := &AggregateCommandHandler{store: store, registry: registry, maxRetries: 5}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Execute implements the §4.2 six-step algorithm:
//  1. resolve the factory registered for cmd.Type
//  2. load aggregateID's history and replay it onto a fresh instance
//  3. call agg.Handle(cmd) to obtain the produced events, stamped with the
//     aggregate's id and the next sequential version
//  4. if the aggregate requests a snapshot, append one snapshot event
//  5. commit the batch
//  6. on a concurrency conflict, reload and retry up to maxRetries times
//     with exponential backoff
func (h *AggregateCommandHandler) Execute(ctx context.Context, cmd message.Command) (message.EventStream, error) {
	factory, ok := h.registry.FactoryFor(cmd.Type)
	if !ok {
		return nil, fmt.Errorf("handler: no aggregate registered for command type %q", cmd.Type)
	}

	for attempt := 0; ; attempt++ {
		events, err := h.attempt(ctx, cmd, factory)
		if err == nil {
			return events, nil
		}
		if !isConcurrencyConflict(err) || attempt >= h.maxRetries {
			return nil, err
		}
		backoff := time.Duration(10*math.Pow(2, float64(attempt))) * time.Millisecond
		backoff += time.Duration(rand.Intn(10)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (h *AggregateCommandHandler) attempt(ctx context.Context, cmd message.Command, factory aggregate.Factory) (message.EventStream, error) {
	aggregateID := cmd.AggregateID
	isNew := message.IsZero(aggregateID)
	if isNew {
		newID, err := h.store.GetNewID(ctx)
		if err != nil {
			return nil, fmt.Errorf("handler: mint aggregate id: %w", err)
		}
		aggregateID = newID
	}

	agg := factory.New(aggregateID)

	if !isNew {
		history, err := h.store.GetAggregateEvents(ctx, aggregateID)
		if err != nil {
			return nil, fmt.Errorf("handler: load history: %w", err)
		}
		if err := aggregate.LoadFromHistory(agg, history); err != nil {
			return nil, err
		}
	}

	cmd.AggregateID = aggregateID
	produced, err := agg.Handle(cmd)
	if err != nil {
		return nil, err
	}
	if len(produced) == 0 {
		return nil, nil
	}

	startVersion := agg.Version()
	batch := make(message.EventStream, 0, len(produced)+1)
	for i, e := range produced {
		e.AggregateID = aggregateID
		e.AggregateVersion = message.Ptr(startVersion + uint64(i) + 1)
		if err := agg.Mutate(e); err != nil {
			return nil, fmt.Errorf("handler: apply produced event %q: %w", e.Type, err)
		}
		batch = append(batch, e)
	}

	if taker, ok := agg.(aggregate.SnapshotTaker); ok && taker.ShouldSnapshot() {
		maker, ok := agg.(aggregate.SnapshotMaker)
		if !ok {
			return nil, &eventstore.SnapshotContractViolationError{AggregateType: fmt.Sprintf("%T", agg)}
		}
		payload, err := maker.MakeSnapshot()
		if err != nil {
			return nil, fmt.Errorf("handler: make snapshot: %w", err)
		}
		batch = append(batch, message.Event{
			Type:             message.SnapshotType,
			AggregateID:      aggregateID,
			AggregateVersion: message.Ptr(agg.Version()),
			Payload:          payload,
		})
	}

	committed, err := h.store.Commit(ctx, batch)
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func isConcurrencyConflict(err error) bool {
	return errors.Is(err, storage.ErrConcurrencyConflict)
}

// AsCommandHandler adapts Execute to the commandbus.Handler signature,
// discarding the committed event stream. Callers that need the events
// (e.g. to report a newly minted aggregate id back to the caller) should
// call Execute directly instead of routing through a commandbus.Bus.
func (h *AggregateCommandHandler) AsCommandHandler() func(ctx context.Context, cmd message.Command) error {
	return func(ctx context.Context, cmd message.Command) error {
		_, err := h.Execute(ctx, cmd)
		return err
	}
}
