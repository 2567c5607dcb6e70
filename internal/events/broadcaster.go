// Package events provides a per-namespace change feed delivered over SSE.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coffre/coffre/internal/metrics"
)

const (
	EventCreate = "create"
	EventDelete = "delete"
)

// Event describes a change inside a user's namespace. Path is the logical
// path relative to the namespace root.
type Event struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Path      string `json:"path"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans events out to SSE subscribers. Subscribers only receive
// events for the namespace they subscribed to.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe registers a subscriber for the given namespace and returns its
// event channel. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(user string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = user
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all subscribers of the event's namespace.
// Non-blocking: drops events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, user := range b.subscribers {
		if user != event.User {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
