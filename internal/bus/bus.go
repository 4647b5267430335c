// Package bus provides the in-process publish/subscribe event system that
// decouples sensor input from control logic. Delivery is sequential and in
// registration order; a failing handler never blocks the remaining handlers.
package bus

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// MaxSubscribers is the per-event-type subscriber cap. Registration beyond
// the cap fails rather than silently dropping handlers.
const MaxSubscribers = 20

// HistorySize is the capacity of the bounded event history ring.
const HistorySize = 32

// Event is a single published event. Events are ephemeral: created per
// Publish call and retained only in the bounded history ring.
type Event struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// Handler processes one event. A returned error is counted in the bus
// statistics; it does not stop delivery to later handlers.
type Handler func(Event) error

// Stats counts event delivery outcomes since startup.
type Stats struct {
	Processed int
	Dropped   int
	Errors    int
}

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]Handler
	stats   Stats
	history *ring
	now     func() time.Time
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[string][]Handler),
		history: newRing(HistorySize),
		now:     time.Now,
	}
}

// NewWithClock creates a Bus with an injected clock for tests.
func NewWithClock(now func() time.Time) *Bus {
	b := New()
	b.now = now
	return b
}

// Subscribe registers handler for eventType. Handlers are invoked in
// registration order. Returns false (and registers nothing) once the
// per-type cap is reached or the handler is nil.
func (b *Bus) Subscribe(eventType string, handler Handler) bool {
	if handler == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs[eventType]) >= MaxSubscribers {
		return false
	}
	b.subs[eventType] = append(b.subs[eventType], handler)
	return true
}

// Publish builds an Event, appends it to the history ring, and invokes each
// subscriber in registration order, waiting for each to finish before the
// next runs. Handlers may themselves publish: the subscriber list is
// snapshotted before any handler is invoked, so delivery of the outer event
// is unaffected by what handlers do.
//
// Publishing to a type with zero subscribers is not an error; it only
// increments the dropped counter.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.now(),
	}

	b.mu.Lock()
	b.history.push(event)
	handlers := b.subs[eventType]
	if len(handlers) == 0 {
		b.stats.Dropped++
		b.mu.Unlock()
		return
	}
	snapshot := make([]Handler, len(handlers))
	copy(snapshot, handlers)
	b.mu.Unlock()

	for _, handler := range snapshot {
		if err := b.deliver(handler, event); err != nil {
			b.mu.Lock()
			b.stats.Errors++
			b.mu.Unlock()
			log.Printf("bus: handler error for %s: %v", eventType, err)
			continue
		}
		b.mu.Lock()
		b.stats.Processed++
		b.mu.Unlock()
	}
}

// deliver invokes one handler, converting a panic into an error so a single
// faulty subscriber cannot blind the rest of the system.
func (b *Bus) deliver(handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}

// SubscriberCount returns the number of handlers registered for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType])
}

// Stats returns a copy of the delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// History returns the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.items()
}
