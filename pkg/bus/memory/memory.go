// Package memory implements the default in-memory bus.Bus: a topic-indexed
// mapping from message type to handler set, with optional named
// single-consumer queues. Grounded in the teacher's
// pkg/messaging.EventBus contract and pkg/nats.EventBus delivery loop,
// generalized to the transport-agnostic bus.Bus interface.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coreflux/eventcore/pkg/bus"
	"github.com/coreflux/eventcore/pkg/message"
)

// Bus is an in-process implementation of bus.Bus and bus.QueueCapable.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]bus.Handler
	nextID   uint64
	queues   map[string]*queue
	logger   *slog.Logger
	closed   bool
}

// New creates an empty in-memory bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]map[uint64]bus.Handler),
		queues:   make(map[string]*queue),
		logger:   logger,
	}
}

// Publish delivers m to every handler registered for m.Type, and to one
// handler per named queue registered for m.Type. Delivery order across
// handlers is unspecified; m is never observed before Publish is called.
func (b *Bus) Publish(ctx context.Context, m message.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus: publish on closed bus")
	}
	handlers := make([]bus.Handler, 0, len(b.handlers[m.Type]))
	for _, h := range b.handlers[m.Type] {
		handlers = append(handlers, h)
	}
	queues := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.invoke(ctx, h, m); err != nil {
			b.logger.ErrorContext(ctx, "bus handler failed", slog.String("type", m.Type), slog.Any("error", err))
		}
	}
	for _, q := range queues {
		q.deliver(ctx, b, m)
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, h bus.Handler, m message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus handler panicked: %v", r)
		}
	}()
	return h(ctx, m)
}

// On registers handler for msgType, or for a named queue when WithQueue is
// given.
func (b *Bus) On(msgType string, handler bus.Handler, opts ...bus.OnOption) (bus.Subscription, error) {
	if queueName := bus.QueueName(opts); queueName != "" {
		q, err := b.Queue(queueName)
		if err != nil {
			return nil, err
		}
		return q.On(msgType, handler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := atomic.AddUint64(&b.nextID, 1)
	if b.handlers[msgType] == nil {
		b.handlers[msgType] = make(map[uint64]bus.Handler)
	}
	b.handlers[msgType][id] = handler

	return &subscription{unsub: func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[msgType], id)
		return nil
	}}, nil
}

// Queue returns the named single-consumer queue, creating it on first use.
func (b *Bus) Queue(name string) (bus.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newQueue(name)
		b.queues[name] = q
	}
	return q, nil
}

// Close tears down the bus; subsequent Publish calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string]map[uint64]bus.Handler)
	b.queues = make(map[string]*queue)
	return nil
}

type subscription struct {
	unsub func() error
}

func (s *subscription) Unsubscribe() error { return s.unsub() }

// queue implements round-robin delivery: each published message of a
// registered type reaches exactly one attached handler.
type queue struct {
	name string

	mu       sync.Mutex
	handlers map[string][]uint64
	byID     map[uint64]bus.Handler
	nextID   uint64
	cursor   map[string]int
}

func newQueue(name string) *queue {
	return &queue{
		name:     name,
		handlers: make(map[string][]uint64),
		byID:     make(map[uint64]bus.Handler),
		cursor:   make(map[string]int),
	}
}

func (q *queue) On(msgType string, handler bus.Handler) (bus.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	q.byID[id] = handler
	q.handlers[msgType] = append(q.handlers[msgType], id)

	return &subscription{unsub: func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.byID, id)
		ids := q.handlers[msgType]
		for i, existing := range ids {
			if existing == id {
				q.handlers[msgType] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		return nil
	}}, nil
}

func (q *queue) deliver(ctx context.Context, b *Bus, m message.Message) {
	q.mu.Lock()
	ids := q.handlers[m.Type]
	if len(ids) == 0 {
		q.mu.Unlock()
		return
	}
	idx := q.cursor[m.Type] % len(ids)
	q.cursor[m.Type] = idx + 1
	handler := q.byID[ids[idx]]
	q.mu.Unlock()

	if handler == nil {
		return
	}
	if err := b.invoke(ctx, handler, m); err != nil {
		b.logger.ErrorContext(ctx, "bus queue handler failed",
			slog.String("queue", q.name), slog.String("type", m.Type), slog.Any("error", err))
	}
}

