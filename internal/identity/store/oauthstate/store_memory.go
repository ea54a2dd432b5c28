package oauthstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// InMemoryOAuthStateStore stores in-flight OAuth states in memory for
// tests/dev.
type InMemoryOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]*models.OAuthState
}

// New constructs an empty in-memory OAuth state store.
func New() *InMemoryOAuthStateStore {
	return &InMemoryOAuthStateStore{states: make(map[string]*models.OAuthState)}
}

func (s *InMemoryOAuthStateStore) Create(_ context.Context, state *models.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.State] = &cp
	return nil
}

// Consume fetches and deletes the state record in one operation under the
// store lock. A second consumption attempt, or an expired record, reports
// not-found; callers must not distinguish replay from expiry.
func (s *InMemoryOAuthStateStore) Consume(_ context.Context, state string, now time.Time) (*models.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.states[state]
	if !ok {
		return nil, fmt.Errorf("oauth state not found: %w", sentinel.ErrNotFound)
	}
	delete(s.states, state)
	if now.After(rec.ExpiresAt) {
		return nil, fmt.Errorf("oauth state expired: %w", sentinel.ErrExpired)
	}
	return rec, nil
}
