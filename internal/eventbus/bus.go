// Package eventbus fans agent events out to presentation subscribers: the
// IPC control surface, attached host shells, and log streaming.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	CallConnecting   = "call.connecting"
	CallActive       = "call.active"
	CallEnding       = "call.ending"
	CallEnded        = "call.ended"
	CallHandoff      = "call.handoff"
	BalanceUpdated   = "balance.updated"
	BalanceExhausted = "balance.exhausted"
	PlanGranted      = "plan.granted"
	LogEntry         = "log.entry"
)

// Event is a single message on the bus.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Subscription is one subscriber's view of the bus. Events arrive on C.
type Subscription struct {
	C      chan Event
	filter map[string]bool // nil = all types
}

// Bus is a fan-out pub/sub event bus. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New creates an event bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for the given event types (all types when
// none are given). The subscription channel is buffered (64).
func (b *Bus) Subscribe(types ...string) *Subscription {
	sub := &Subscription{C: make(chan Event, 64)}
	if len(types) > 0 {
		sub.filter = make(map[string]bool, len(types))
		for _, t := range types {
			sub.filter[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.C)
	}
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.filter != nil && !sub.filter[e.Type] {
			continue
		}
		select {
		case sub.C <- e:
		default:
			// slow subscriber, drop
		}
	}
}

// PublishType marshals data and publishes it under the given event type.
func (b *Bus) PublishType(eventType string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	b.Publish(Event{Type: eventType, Timestamp: time.Now(), Data: raw})
}

// Close removes all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.C)
		delete(b.subs, sub)
	}
}
