// Package broadcast propagates auth state changes between session controller
// instances, so a sign-out or role change in one surface is reflected in the
// others without polling.
package broadcast

import (
	"context"
	"sync"
	"time"

	"beacon/internal/identity/models"
)

type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventSignedOut      EventType = "signed_out"
	EventRoleChanged    EventType = "role_changed"
	EventSessionEvicted EventType = "session_evicted"
)

// Event describes one auth state change. Origin identifies the emitting
// controller instance so it can skip its own events.
type Event struct {
	Type   EventType   `json:"type"`
	Origin string      `json:"origin"`
	UserID string      `json:"userId,omitempty"`
	Role   models.Role `json:"role,omitempty"`
	At     time.Time   `json:"at"`
}

// Bus fans auth events out to all subscribed controller instances.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers a handler for future events and returns a cancel
	// function. Handlers must not block.
	Subscribe(fn func(Event)) (cancel func())
	Close() error
}

// MemoryBus is the in-process implementation. It delivers synchronously, in
// subscription order.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Event))}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *MemoryBus) Close() error { return nil }
