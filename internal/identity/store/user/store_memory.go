package user

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryUserStore stores users in memory for tests/dev.
type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*models.User
	byEmail map[string]uuid.UUID
}

// New constructs an empty in-memory user store.
func New() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryUserStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneUser(user)
	if prev, ok := s.users[user.ID]; ok && prev.PrimaryEmail != "" && prev.PrimaryEmail != cp.PrimaryEmail {
		delete(s.byEmail, strings.ToLower(prev.PrimaryEmail))
	}
	s.users[cp.ID] = cp
	if cp.PrimaryEmail != "" {
		s.byEmail[strings.ToLower(cp.PrimaryEmail)] = cp.ID
	}
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byEmail[strings.ToLower(email)]; ok {
		return cloneUser(s.users[id]), nil
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryUserStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	if u.PrimaryEmail != "" {
		delete(s.byEmail, strings.ToLower(u.PrimaryEmail))
	}
	delete(s.users, id)
	return nil
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	cp.LinkedProviders = append([]models.Provider(nil), u.LinkedProviders...)
	return &cp
}
