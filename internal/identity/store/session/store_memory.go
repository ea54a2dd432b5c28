package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// InMemorySessionStore tracks live sessions per user and enforces the
// concurrent-session cap.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.SessionRecord
}

// New constructs an empty in-memory session store.
func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[uuid.UUID]*models.SessionRecord)}
}

func (s *InMemorySessionStore) Create(_ context.Context, rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.sessions[rec.ID] = &cp
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, id uuid.UUID) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
}

// Touch advances LastSeenAt and extends expiry for an active session.
func (s *InMemorySessionStore) Touch(_ context.Context, id uuid.UUID, now, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if rec.Status != models.SessionStatusActive {
		return fmt.Errorf("session %s: %w", rec.Status, sentinel.ErrInvalidState)
	}
	rec.LastSeenAt = now
	rec.ExpiresAt = expiresAt
	return nil
}

// SetStatus transitions a session's lifecycle status.
func (s *InMemorySessionStore) SetStatus(_ context.Context, id uuid.UUID, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	rec.Status = status
	return nil
}

// ListActiveByUser returns the user's active sessions ordered oldest first.
func (s *InMemorySessionStore) ListActiveByUser(_ context.Context, userID uuid.UUID) ([]*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SessionRecord
	for _, rec := range s.sessions {
		if rec.UserID == userID && rec.Status == models.SessionStatusActive {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// EvictOverCap marks the oldest active sessions evicted until at most max
// remain, in one operation under the store lock. Returns the evicted IDs.
func (s *InMemorySessionStore) EvictOverCap(_ context.Context, userID uuid.UUID, max int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*models.SessionRecord
	for _, rec := range s.sessions {
		if rec.UserID == userID && rec.Status == models.SessionStatusActive {
			active = append(active, rec)
		}
	}
	if len(active) <= max {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })

	var evicted []uuid.UUID
	for _, rec := range active[:len(active)-max] {
		rec.Status = models.SessionStatusEvicted
		evicted = append(evicted, rec.ID)
	}
	return evicted, nil
}
