// Package saga implements the event-driven (not orchestration-style) saga
// runtime described by §4.4: a Saga is rehydrated by replaying its own
// event stream strictly before the triggering event, reacts to that event,
// and emits commands fed back through a command bus. Grounded in the
// teacher's pkg/eventsourcing repository replay pattern, generalized from
// aggregate replay to saga replay, and in spirit against
// Chris-Alexander-Pop-microservices-library's orchestration saga — this
// package deliberately keeps the saga passive (react to one event at a
// time) rather than driving a multi-step workflow itself.
package saga

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreflux/eventcore/pkg/message"
)

// Saga is the write-side contract a saga implementation satisfies. React
// decides what commands to send in response to a triggering event, given
// state rebuilt from prior Apply calls; it must not mutate state itself.
type Saga interface {
	// ID returns the saga's identity.
	ID() message.ID

	// Version returns the number of events applied so far.
	Version() uint64

	// Apply updates saga state from a single historical or just-produced
	// event, advancing Version by one.
	Apply(e message.Event) error

	// React decides what commands, if any, to send in response to
	// trigger, without mutating state.
	React(trigger message.Event) ([]message.Command, error)

	// OnError is invoked when command dispatch resulting from React
	// fails, giving the saga a chance to emit compensating commands. A nil
	// return means no compensation is attempted.
	OnError(trigger message.Event, dispatchErr error) ([]message.Command, error)
}

// CommandSender is the subset of a command bus a SagaEventHandler uses to
// dispatch the commands React produces.
type CommandSender interface {
	Send(ctx context.Context, cmd message.Command) error
}

// Factory constructs a zero-value instance of a saga type for replay.
type Factory interface {
	New(id message.ID) Saga

	// Handles reports the event types this saga reacts to.
	Handles() []string
}

// FactoryFunc adapts a plain constructor and static event list into a
// Factory.
type FactoryFunc struct {
	NewFunc      func(id message.ID) Saga
	HandlesTypes []string
}

// New implements Factory.
func (f FactoryFunc) New(id message.ID) Saga { return f.NewFunc(id) }

// Handles implements Factory.
func (f FactoryFunc) Handles() []string { return f.HandlesTypes }

// SagaEventHandler rehydrates a Saga for a triggering event's SagaID,
// replays its history strictly before the trigger, asks it to React, and
// dispatches the resulting commands.
type SagaEventHandler struct {
	store   sagaStore
	sender  CommandSender
	factory Factory
	logger  *slog.Logger
}

// sagaStore is satisfied by *eventstore.EventStore via GetSagaEventsBefore.
type sagaStore interface {
	GetSagaEventsBefore(ctx context.Context, sagaID message.ID, beforeVersion uint64) (message.EventStream, error)
}

// New builds a SagaEventHandler for factory, loading history through store
// and dispatching commands through sender.
func New(store sagaStore, sender CommandSender, factory Factory, logger *slog.Logger) *SagaEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SagaEventHandler{store: store, sender: sender, factory: factory, logger: logger}
}

// Handle implements bus.Handler: it is registered for every event type in
// factory.Handles().
func (h *SagaEventHandler) Handle(ctx context.Context, trigger message.Event) error {
	s := h.factory.New(trigger.SagaID)

	// A trigger with no sagaId is saga-starting: there is no prior history
	// to rehydrate, so React runs against a fresh saga instance.
	if !message.IsZero(trigger.SagaID) {
		if trigger.SagaVersion == nil {
			return fmt.Errorf("saga: triggering event %q carries a saga id but no saga version", trigger.Type)
		}

		history, err := h.store.GetSagaEventsBefore(ctx, trigger.SagaID, *trigger.SagaVersion)
		if err != nil {
			return fmt.Errorf("saga: load history: %w", err)
		}
		for _, e := range history {
			if err := s.Apply(e); err != nil {
				return fmt.Errorf("saga: replay event %q: %w", e.Type, err)
			}
		}
	}

	commands, err := s.React(trigger)
	if err != nil {
		return fmt.Errorf("saga: react to %q: %w", trigger.Type, err)
	}

	for _, cmd := range commands {
		if message.IsZero(cmd.SagaID) {
			cmd.SagaID = trigger.SagaID
		}
		if sendErr := h.sender.Send(ctx, cmd); sendErr != nil {
			compensations, compErr := s.OnError(trigger, sendErr)
			if compErr != nil {
				h.logger.ErrorContext(ctx, "saga compensation failed",
					slog.String("sagaType", fmt.Sprintf("%T", s)), slog.Any("dispatchError", sendErr), slog.Any("compensationError", compErr))
				return compErr
			}
			for _, comp := range compensations {
				if message.IsZero(comp.SagaID) {
					comp.SagaID = trigger.SagaID
				}
				if err := h.sender.Send(ctx, comp); err != nil {
					h.logger.ErrorContext(ctx, "saga compensating command failed",
						slog.String("sagaType", fmt.Sprintf("%T", s)), slog.Any("error", err))
					return err
				}
			}
			return nil
		}
	}
	return nil
}
