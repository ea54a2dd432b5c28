package refreshtoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// InMemoryRefreshTokenStore stores refresh token records in memory for
// tests/dev. Records are keyed by token hash.
type InMemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshTokenRecord
}

// New constructs an empty in-memory refresh token store.
func New() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{tokens: make(map[string]*models.RefreshTokenRecord)}
}

func (s *InMemoryRefreshTokenStore) Create(_ context.Context, rec *models.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tokens[rec.TokenHash] = &cp
	return nil
}

// Consume marks the token used if it is unused and unexpired, atomically
// under the store lock. A rotation redeems each token at most once.
func (s *InMemoryRefreshTokenStore) Consume(_ context.Context, tokenHash string, now time.Time) (*models.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if rec.Used {
		return nil, fmt.Errorf("refresh token already used: %w", sentinel.ErrAlreadyUsed)
	}
	if now.After(rec.ExpiresAt) {
		return nil, fmt.Errorf("refresh token expired: %w", sentinel.ErrExpired)
	}
	rec.Used = true
	cp := *rec
	return &cp, nil
}

// DeleteBySessionID drops all refresh tokens minted for a session. Called on
// sign-out and eviction.
func (s *InMemoryRefreshTokenStore) DeleteBySessionID(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, rec := range s.tokens {
		if rec.SessionID == sessionID {
			delete(s.tokens, hash)
		}
	}
	return nil
}
