// Package events provides event management functionality.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ResolutionStarted   EventType = "RESOLUTION_STARTED"
	ResolutionProgress  EventType = "RESOLUTION_PROGRESS"
	ResolutionCompleted EventType = "RESOLUTION_COMPLETED"
	ResolutionFailed    EventType = "RESOLUTION_FAILED"
	InstrumentResolved  EventType = "INSTRUMENT_RESOLVED"
	CacheCleared        EventType = "CACHE_CLEARED"
	UniverseChanged     EventType = "UNIVERSE_CHANGED"
	BrokerStatusChanged EventType = "BROKER_STATUS_CHANGED"
	BackupCompleted     EventType = "BACKUP_COMPLETED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// Bus is an in-process publish/subscribe fan-out for events.
// Subscribers receive events on buffered channels; a subscriber that falls
// behind loses events rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full - drop rather than stall the publisher
			b.log.Debug().
				Int("subscriber", id).
				Str("event_type", string(event.Type)).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
