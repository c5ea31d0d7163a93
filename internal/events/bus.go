// Package events provides a pub/sub bus for deliberation lifecycle events.
// Subscribers with full buffers lose the oldest event, never block the
// publishing step.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all published events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	SessionID() string
}

// BaseEvent provides the common fields.
type BaseEvent struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"timestamp"`
	Session string    `json:"session_id"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) SessionID() string    { return e.Session }

// NewBaseEvent creates a base event stamped now.
func NewBaseEvent(eventType, sessionID string) BaseEvent {
	return BaseEvent{
		Type:    eventType,
		Time:    time.Now(),
		Session: sessionID,
	}
}

// Subscriber holds one subscription's channel and type filter.
type Subscriber struct {
	ch    chan Event
	types map[string]bool // empty means all types
}

// Bus is the pub/sub hub.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*Subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make([]*Subscriber, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving the named event types, or all
// events when no types are given.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ch:    make(chan Event, b.bufferSize),
		types: make(map[string]bool),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.ch != ch {
			result = append(result, sub)
		} else {
			close(sub.ch)
		}
	}
	b.subscribers = result
}

// Publish sends an event to all matching subscribers. A full subscriber
// buffer drops the oldest event to make room (ring buffer behavior).
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	eventType := event.EventType()
	for _, sub := range b.subscribers {
		if len(sub.types) != 0 && !sub.types[eventType] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
				atomic.AddInt64(&b.droppedCount, 1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
				atomic.AddInt64(&b.droppedCount, 1)
			}
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
