// Package custody holds the in-memory token cell. Access and identity tokens
// live only here for the lifetime of the process; nothing in this package or
// its consumers writes them to durable storage.
package custody

import "sync"

// Tokens is the sensitive credential set. It is deliberately not referenced by
// the persistence layer, so a snapshot cannot carry it by construction.
type Tokens struct {
	AccessToken string
	IDToken     string
	ExpiresIn   int64
}

// Listener is notified synchronously whenever the cell changes. A nil Tokens
// means the credentials were cleared.
type Listener func(*Tokens)

// Cell is the single authoritative holder of the current credentials.
// Consumers that attach tokens to outbound requests read it lazily at request
// time, so a Set is visible to the next request without any further plumbing.
type Cell struct {
	mu        sync.RWMutex
	tokens    *Tokens
	listeners []Listener
}

func NewCell() *Cell {
	return &Cell{}
}

// Get returns a copy of the current tokens, or nil when unauthenticated.
func (c *Cell) Get() *Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return nil
	}
	cp := *c.tokens
	return &cp
}

// AccessToken returns the bare access token, or "" when none is held.
func (c *Cell) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.AccessToken
}

// Set replaces the held tokens and notifies listeners before returning.
func (c *Cell) Set(t *Tokens) {
	c.mu.Lock()
	if t != nil {
		cp := *t
		c.tokens = &cp
	} else {
		c.tokens = nil
	}
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// Clear drops the held tokens. Equivalent to Set(nil).
func (c *Cell) Clear() {
	c.Set(nil)
}

// Subscribe registers a listener for future changes. There is no unsubscribe;
// the cell and its listeners share the process lifetime.
func (c *Cell) Subscribe(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
