// Package bus provides the in-process publish/subscribe dispatcher that
// connects the pipeline components. It carries no business logic: events go
// in, registered handlers are invoked, failures are isolated.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"tradegate/internal/domain"
)

// Handler consumes one event. Handlers must not retain the event past the
// call; they may publish further events.
type Handler func(ctx context.Context, ev domain.Event)

// Bus dispatches events synchronously to handlers registered per event kind.
// Handlers for a kind run in registration order; a panicking handler is
// recovered and logged without affecting the others. There is no persistence
// or replay: events published after shutdown are simply dropped by the
// components that have stopped listening.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind][]Handler
	logger   *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventKind][]Handler),
		logger:   logger.With(slog.String("component", "bus")),
	}
}

// Subscribe registers a handler for the given event kind. Subscriptions are
// expected to happen during wiring, but Subscribe is safe to call at any
// time.
func (b *Bus) Subscribe(kind domain.EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers ev to every handler registered for its kind and returns
// once all of them have run. Handler panics are recovered so one failing
// subscriber cannot starve the rest or raise out of Publish.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[ev.Kind()]))
	copy(handlers, b.handlers[ev.Kind()])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}
}

// invoke runs a single handler with panic isolation.
func (b *Bus) invoke(ctx context.Context, h Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				slog.String("event", string(ev.Kind())),
				slog.Any("panic", r),
			)
		}
	}()
	h(ctx, ev)
}
