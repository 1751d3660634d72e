package event

import (
	"sync"

	"go.uber.org/zap"
)

// Handler consumes events published on the Bus.
type Handler func(Event)

// Bus is a typed in-process publish/subscribe hub. Delivery is a synchronous
// fanout on the publisher's goroutine; a panicking subscriber is recovered
// and logged so it cannot break the engine or sibling subscribers. Handlers
// that need to block (webhook delivery) hand off to their own goroutines.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]Handler
	all    []Handler
	logger *zap.Logger
}

// NewBus constructs a Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Type][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish fans the event out to matching subscribers. Invalid events are
// discarded with a debug log rather than surfaced to the engine.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[evt.Type])+len(b.all))
	handlers = append(handlers, b.subs[evt.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked",
				zap.String("type", string(evt.Type)),
				zap.String("job_id", evt.JobID),
				zap.Any("panic", r),
			)
		}
	}()
	h(evt)
}
