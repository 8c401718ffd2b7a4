// Package commandbus implements the command dispatch surface every
// CommandSender (including pkg/saga) sends through: register one handler
// per command type, wrap dispatch in a middleware chain, and route Send
// calls by Command.Type. Grounded in the teacher's
// pkg/eventsourcing.DefaultCommandBus.
package commandbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreflux/eventcore/pkg/message"
)

// Handler processes a single command.
type Handler func(ctx context.Context, cmd message.Command) error

// Middleware wraps a Handler to add cross-cutting behavior (logging,
// recovery, validation, tracing). Middlewares are applied in the order
// passed to Use: the first one registered is the outermost.
type Middleware func(next Handler) Handler

// Bus routes a Command to the Handler registered for its Type, through the
// configured middleware chain.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware
	chain      Handler // recomputed whenever Use or Register runs
}

// New creates an empty Bus.
func New() *Bus {
	b := &Bus{handlers: make(map[string]Handler)}
	b.rebuild()
	return b
}

// Register associates handler with commandType. It is an error to register
// the same type twice.
func (b *Bus) Register(commandType string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[commandType]; exists {
		return fmt.Errorf("commandbus: handler already registered for type %q", commandType)
	}
	b.handlers[commandType] = handler
	return nil
}

// Use appends mw to the middleware chain. Must be called before Send is
// first invoked concurrently with further Use calls; typical usage is to
// call Use for every middleware during startup, then Send from request
// handling goroutines.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
	b.rebuild()
}

// rebuild recomputes the dispatch chain; callers must hold b.mu.
func (b *Bus) rebuild() {
	var dispatch Handler = b.dispatch
	for i := len(b.middleware) - 1; i >= 0; i-- {
		dispatch = b.middleware[i](dispatch)
	}
	b.chain = dispatch
}

func (b *Bus) dispatch(ctx context.Context, cmd message.Command) error {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.Type]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("commandbus: no handler registered for command type %q", cmd.Type)
	}
	return handler(ctx, cmd)
}

// Send routes cmd through the middleware chain to its registered handler.
func (b *Bus) Send(ctx context.Context, cmd message.Command) error {
	b.mu.RLock()
	chain := b.chain
	b.mu.RUnlock()
	return chain(ctx, cmd)
}
