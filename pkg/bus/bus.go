// Package bus defines the publish/subscribe contract the EventStore
// publishes committed events through, plus the default in-memory
// implementation.
package bus

import (
	"context"

	"github.com/coreflux/eventcore/pkg/message"
)

// Handler processes a delivered message. Returning an error only matters to
// backends that support redelivery (e.g. the NATS bus); the in-memory bus
// logs the error and moves on, exactly as §7 requires: "Saga and projection
// handlers report errors via onError / logging and MUST NOT propagate into
// the bus publish path."
type Handler func(ctx context.Context, m message.Message) error

// Subscription is returned by On/Queue and unregisters the handler.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the minimal publish/subscribe contract. "If a message bus is
// supplied, use it for both publish and subscribe" (§4.1.4).
type Bus interface {
	// Publish delivers m to every handler registered for m.Type. A handler
	// never observes m before Publish is called for it.
	Publish(ctx context.Context, m message.Message) error

	// On registers handler for every message of the given type. Exactly
	// two arguments are meaningful to callers: type and handler — additive
	// options are taken through OnOption.
	On(msgType string, handler Handler, opts ...OnOption) (Subscription, error)

	// Close releases bus resources.
	Close() error
}

// QueueCapable is an optional capability: named single-consumer queues.
// "queue(name): named single-consumer queue if the bus supports it, else
// fails with UnsupportedCapability."
type QueueCapable interface {
	Queue(name string) (Queue, error)
}

// Queue is a single-consumer handle: among every handler attached to the
// same queue name, each published message is delivered to exactly one.
type Queue interface {
	On(msgType string, handler Handler) (Subscription, error)
}

// OnOption configures a subscription registered through Bus.On.
type OnOption func(*onConfig)

type onConfig struct {
	queueName string
}

// WithQueue attaches the subscription to a named queue instead of a plain
// broadcast topic.
func WithQueue(name string) OnOption {
	return func(c *onConfig) { c.queueName = name }
}

// QueueName resolves the queue name configured via WithQueue, or "" if none
// was given. Bus implementations use this to interpret On's opts without
// needing onConfig exported.
func QueueName(opts []OnOption) string {
	var c onConfig
	for _, o := range opts {
		o(&c)
	}
	return c.queueName
}
