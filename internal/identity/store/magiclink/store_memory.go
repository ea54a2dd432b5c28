package magiclink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// translateLinkError converts domain errors from ValidateForConsume into
// sentinel errors per the store boundary contract.
func translateLinkError(err error) error {
	switch {
	case errors.Is(err, models.ErrLinkExpired):
		return fmt.Errorf("%v: %w", err, sentinel.ErrExpired)
	case errors.Is(err, models.ErrLinkAlreadyUsed):
		return fmt.Errorf("%v: %w", err, sentinel.ErrAlreadyUsed)
	default:
		return fmt.Errorf("%v: %w", err, sentinel.ErrInvalidState)
	}
}

// InMemoryMagicLinkStore stores magic link records in memory for tests/dev.
// Records are keyed by token hash; the raw token never reaches the store.
type InMemoryMagicLinkStore struct {
	mu    sync.Mutex
	links map[string]*models.MagicLinkToken
}

// New constructs an empty in-memory magic link store.
func New() *InMemoryMagicLinkStore {
	return &InMemoryMagicLinkStore{links: make(map[string]*models.MagicLinkToken)}
}

func (s *InMemoryMagicLinkStore) Create(_ context.Context, link *models.MagicLinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *link
	s.links[link.TokenHash] = &cp
	return nil
}

// Consume marks the link used if it is still consumable, in one operation
// under the store lock. Two concurrent calls with the same token hash cannot
// both succeed.
func (s *InMemoryMagicLinkStore) Consume(_ context.Context, tokenHash string, now time.Time) (*models.MagicLinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[tokenHash]
	if !ok {
		return nil, fmt.Errorf("magic link not found: %w", sentinel.ErrNotFound)
	}
	if err := link.ValidateForConsume(now); err != nil {
		return nil, translateLinkError(err)
	}
	link.Used = true
	cp := *link
	return &cp, nil
}

// DeleteByEmail removes pending (unused) links for an email address. Used to
// abandon an in-flight magic link when an OAuth merge supersedes it.
func (s *InMemoryMagicLinkStore) DeleteByEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, link := range s.links {
		if link.Email == email && !link.Used {
			delete(s.links, hash)
		}
	}
	return nil
}
