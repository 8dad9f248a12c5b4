// Package bus provides the in-process event broadcast connecting the pipeline
// stages. Delivery is lossy: a slow subscriber drops notifications rather
// than stalling the publisher, and consumers read the store for truth.
package bus

import (
	"log/slog"
	"sync"

	"github.com/potwatch/potwatch/internal/model"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	// KindLogEntry is published for every parsed log entry.
	KindLogEntry EventKind = "log_entry"
	// KindSessionUpdate is published after the aggregator mutates a session.
	KindSessionUpdate EventKind = "session_update"
	// KindAlert is published when the alert engine raises an alert.
	KindAlert EventKind = "alert"
)

// Event is one notification on the bus. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind     EventKind
	LogEntry *model.LogEntry
	Session  *model.Session
	Alert    *model.Alert
}

// Dropper counts notifications discarded on full subscriber buffers.
type Dropper interface {
	IncNotificationsDropped()
}

// Bus fans events out to subscribers over bounded channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	dropper     Dropper
	logger      *slog.Logger
}

// New creates a bus whose subscriber channels hold bufferSize pending events.
// dropper may be nil.
func New(bufferSize int, dropper Dropper, logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
		dropper:     dropper,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers one event to every subscriber without blocking. A
// subscriber whose buffer is full misses this event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			if b.dropper != nil {
				b.dropper.IncNotificationsDropped()
			}
			b.logger.Debug("dropped bus notification", "kind", event.Kind, "subscriber", id)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
