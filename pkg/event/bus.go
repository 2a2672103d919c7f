// Package event implements the notification stream produced by proxy
// engines. Each engine owns its own bus; consumers subscribe for an
// append-only feed of lifecycle events.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of notification.
type Type string

const (
	// TypeRequest is emitted the instant a request is classified, before
	// any backend call is made. Payload is a pending request record.
	TypeRequest Type = "request"

	// TypeResponse is emitted when an HTTP exchange reaches a terminal
	// status.
	TypeResponse Type = "response"

	// TypeQueryComplete is emitted when a database exchange reaches a
	// terminal status.
	TypeQueryComplete Type = "query-complete"

	// TypeError is emitted for per-connection failures.
	TypeError Type = "error"

	// TypeMockCreated is emitted when a new mock is stored.
	TypeMockCreated Type = "mock-created"

	// TypeMockAutoReplaced is emitted when auto-replace overwrote a stale
	// mock with the live response.
	TypeMockAutoReplaced Type = "mock-auto-replaced"

	// TypeMockDifference is emitted when drift between a mock and the live
	// backend was detected but not auto-replaced.
	TypeMockDifference Type = "mock-difference-detected"
)

// Event is one notification on the stream.
type Event struct {
	Type      Type      `json:"type"`
	ProxyPort int       `json:"proxyPort"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Bus is a typed publish/subscribe channel. Publish never blocks: slow
// subscribers miss events rather than stalling the engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	buffer int
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a consumer. The returned cancel function must be
// called to release the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans an event out to all subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
