package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/buffrsign/engine/pkg/schema"
)

// Listener receives a lifecycle event. Listeners run synchronously in
// registration order; a panicking listener is recovered and logged and
// never interrupts the engine or later listeners.
type Listener func(event schema.Event)

// Subscription identifies a registered listener for later removal.
type Subscription uint64

// Bus is a synchronous fan-out dispatcher keyed by event name.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]entry
	seq       atomic.Uint64
	logger    *slog.Logger
}

type entry struct {
	id Subscription
	fn Listener
}

// NewBus creates a Bus. logger may be nil (events then dispatch silently).
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string][]entry),
		logger:    logger,
	}
}

// AddEventListener registers fn for the named event type and returns a
// Subscription usable with RemoveEventListener.
func (b *Bus) AddEventListener(eventType string, fn Listener) Subscription {
	id := Subscription(b.seq.Add(1))
	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], entry{id: id, fn: fn})
	b.mu.Unlock()
	return id
}

// RemoveEventListener unregisters a previously added listener.
func (b *Bus) RemoveEventListener(eventType string, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.listeners[eventType]
	for i, e := range entries {
		if e.id == sub {
			b.listeners[eventType] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit dispatches the event to all listeners registered for its type,
// synchronously and in registration order.
func (b *Bus) Emit(event schema.Event) {
	b.mu.RLock()
	entries := make([]entry, len(b.listeners[event.Type]))
	copy(entries, b.listeners[event.Type])
	b.mu.RUnlock()

	for _, e := range entries {
		b.dispatch(e, event)
	}
}

func (b *Bus) dispatch(e entry, event schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				slog.String("event_type", event.Type),
				slog.String("workflow_id", event.WorkflowID),
				slog.Any("panic", r))
		}
	}()
	e.fn(event)
}
