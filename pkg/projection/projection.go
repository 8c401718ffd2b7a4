// Package projection implements the §4.5 read-model runtime: a Projection
// subscribes to the types it cares about, replays the full committed
// history once at startup to reach a ready state, and thereafter updates
// its View incrementally as new events are published. Grounded in the
// teacher's pkg/eventsourcing.ProjectionManager and pkg/store.Projection,
// generalized off the protobuf event payload onto the opaque
// message.Message model.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coreflux/eventcore/pkg/bus"
	"github.com/coreflux/eventcore/pkg/message"
)

// Source is the subset of *eventstore.EventStore a Projection replays
// history through and subscribes to live events on.
type Source interface {
	GetAllEvents(ctx context.Context, eventTypes []string) (message.EventStream, error)
	On(msgType string, handler bus.Handler) (bus.Subscription, error)
}

// Handler applies a single event to a projection's state. Implementations
// are expected to be idempotent with respect to replay ordering: Start
// applies each event once, in commit order, but a handler restarted from
// an empty view will see the same events again.
type Handler func(ctx context.Context, e message.Event) error

// Projection subscribes to a set of event types, replays history once to
// reach a ready state, and thereafter applies new events as they are
// published.
type Projection struct {
	source     Source
	eventTypes []string
	handler    Handler
	logger     *slog.Logger

	ready atomic.Bool
	mu    sync.Mutex
	subs  []bus.Subscription
}

// New builds a Projection over source, reacting to eventTypes via handler.
func New(source Source, eventTypes []string, handler Handler, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{source: source, eventTypes: eventTypes, handler: handler, logger: logger}
}

// Start replays all committed history matching the projection's event
// types, applying each to handler in order, then subscribes for live
// events. Ready returns true once the initial replay completes; events
// published during replay are buffered and applied afterward so none are
// missed; a buffered event with the same aggregate id, aggregate version
// and type as a replayed one is skipped, so it is not applied twice.
// Buffered events without an aggregate version are always applied.
func (p *Projection) Start(ctx context.Context) error {
	var buffered []message.Event
	var bufMu sync.Mutex
	buffering := true

	for _, t := range p.eventTypes {
		t := t
		sub, err := p.source.On(t, func(ctx context.Context, e message.Event) error {
			bufMu.Lock()
			if buffering {
				buffered = append(buffered, e)
				bufMu.Unlock()
				return nil
			}
			bufMu.Unlock()
			return p.apply(ctx, e)
		})
		if err != nil {
			return fmt.Errorf("projection: subscribe to %q: %w", t, err)
		}
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()
	}

	history, err := p.source.GetAllEvents(ctx, p.eventTypes)
	if err != nil {
		return fmt.Errorf("projection: initial replay: %w", err)
	}
	versionKey := func(e message.Event) string {
		if e.AggregateVersion == nil {
			return ""
		}
		return fmt.Sprintf("%v:%d:%s", e.AggregateID, *e.AggregateVersion, e.Type)
	}
	replayed := make(map[string]struct{}, len(history))
	for _, e := range history {
		if k := versionKey(e); k != "" {
			replayed[k] = struct{}{}
		}
		if err := p.apply(ctx, e); err != nil {
			return fmt.Errorf("projection: apply %q during replay: %w", e.Type, err)
		}
	}

	bufMu.Lock()
	buffering = false
	pending := buffered
	buffered = nil
	bufMu.Unlock()
	for _, e := range pending {
		if _, seen := replayed[versionKey(e)]; seen {
			continue
		}
		if err := p.apply(ctx, e); err != nil {
			p.logger.ErrorContext(ctx, "projection failed to apply buffered event",
				slog.String("type", e.Type), slog.Any("error", err))
		}
	}

	p.ready.Store(true)
	return nil
}

func (p *Projection) apply(ctx context.Context, e message.Event) error {
	if err := p.handler(ctx, e); err != nil {
		p.logger.ErrorContext(ctx, "projection handler failed", slog.String("type", e.Type), slog.Any("error", err))
		return err
	}
	return nil
}

// Ready reports whether the initial replay has completed.
func (p *Projection) Ready() bool { return p.ready.Load() }

// Stop unsubscribes from all live event types.
func (p *Projection) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
