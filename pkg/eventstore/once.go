package eventstore

import (
	"context"
	"sync/atomic"

	"github.com/coreflux/eventcore/pkg/bus"
	"github.com/coreflux/eventcore/pkg/message"
)

// OnceHandler is invoked at most once, for the first matching event.
type OnceHandler func(ctx context.Context, e message.Event) error

// Filter reports whether e should be treated as a match for a Once
// subscription. A nil Filter matches every event of the subscribed type.
type Filter func(e message.Event) bool

// OnceSubscription is the cancel handle returned by Once: calling Cancel
// before a match arrives guarantees handler is never invoked, supplementing
// the bare "fires once" contract with an explicit early-unsubscribe path
// (a feature the distilled spec omitted but node-cqrs's once() exposes).
type OnceSubscription struct {
	handled *atomic.Bool
	inner   []bus.Subscription
}

// Cancel unsubscribes every underlying bus registration. If handler has
// already fired, Cancel is a harmless no-op.
func (o *OnceSubscription) Cancel() error {
	o.handled.Store(true)
	return o.unsubscribeAll()
}

func (o *OnceSubscription) unsubscribeAll() error {
	var firstErr error
	for _, sub := range o.inner {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Once registers handler to fire for the first event of any type in
// msgTypes matching filter, then unsubscribes from every type it was
// registered against. Concurrent deliveries — whether racing publishes of
// the same type or a simultaneous match on two different types — are
// guarded by an atomic flag so handler fires exactly once.
func (s *EventStore) Once(msgTypes []string, filter Filter, handler OnceHandler) (*OnceSubscription, error) {
	var handled atomic.Bool
	once := &OnceSubscription{handled: &handled}

	onMatch := func(ctx context.Context, m message.Event) error {
		if filter != nil && !filter(m) {
			return nil
		}
		if !handled.CompareAndSwap(false, true) {
			return nil
		}
		defer func() {
			_ = once.unsubscribeAll()
		}()
		return handler(ctx, m)
	}

	subs := make([]bus.Subscription, 0, len(msgTypes))
	for _, msgType := range msgTypes {
		sub, err := s.bus.On(msgType, onMatch)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	once.inner = subs
	return once, nil
}
