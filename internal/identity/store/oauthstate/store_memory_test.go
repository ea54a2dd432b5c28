package oauthstate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

type InMemoryOAuthStateStoreSuite struct {
	suite.Suite
	store *InMemoryOAuthStateStore
	now   time.Time
}

func (s *InMemoryOAuthStateStoreSuite) SetupTest() {
	s.store = New()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryOAuthStateStoreSuite) TestConsumeDeletes() {
	ctx := context.Background()
	rec := &models.OAuthState{
		State:        "state-1",
		CodeVerifier: "verifier-1",
		Provider:     models.ProviderGoogle,
		UserID:       uuid.New(),
		ExpiresAt:    s.now.Add(5 * time.Minute),
	}
	s.Require().NoError(s.store.Create(ctx, rec))

	got, err := s.store.Consume(ctx, "state-1", s.now)
	s.Require().NoError(err)
	s.Equal("verifier-1", got.CodeVerifier)
	s.Equal(models.ProviderGoogle, got.Provider)

	// Replay: the record is gone, indistinguishable from never-existed.
	_, err = s.store.Consume(ctx, "state-1", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryOAuthStateStoreSuite) TestConsumeExpired() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, &models.OAuthState{
		State:     "state-old",
		Provider:  models.ProviderGitHub,
		ExpiresAt: s.now.Add(5 * time.Minute),
	}))

	_, err := s.store.Consume(ctx, "state-old", s.now.Add(6*time.Minute))
	s.ErrorIs(err, sentinel.ErrExpired)

	// Expiry consumption still deletes; a retry cannot revive it.
	_, err = s.store.Consume(ctx, "state-old", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryOAuthStateStoreSuite) TestConsumeUnknown() {
	_, err := s.store.Consume(context.Background(), "never-issued", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func TestInMemoryOAuthStateStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryOAuthStateStoreSuite))
}
