package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
)

func (s *ServiceSuite) TestRefreshRotates() {
	ctx := context.Background()
	auth, err := s.service.CreateAnonymous(ctx, Device{})
	s.Require().NoError(err)

	s.clk.Advance(10 * time.Minute)

	outcome, err := s.service.Refresh(ctx, auth.RefreshToken)
	s.Require().NoError(err)
	s.NotEmpty(outcome.Result.AccessToken)
	s.NotEmpty(outcome.RefreshToken)
	s.NotEqual(auth.RefreshToken, outcome.RefreshToken)
	s.Equal(s.clk.Now().Add(24*time.Hour), outcome.Result.SessionExpiresAt)

	s.Run("old token is single use", func() {
		_, err := s.service.Refresh(ctx, auth.RefreshToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rotated token works", func() {
		_, err := s.service.Refresh(ctx, outcome.RefreshToken)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestRefreshRejections() {
	ctx := context.Background()

	s.Run("empty token", func() {
		_, err := s.service.Refresh(ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown token", func() {
		_, err := s.service.Refresh(ctx, "never-issued")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("revoked session", func() {
		auth, err := s.service.CreateAnonymous(ctx, Device{})
		s.Require().NoError(err)
		s.Require().NoError(s.sessions.SetStatus(ctx, auth.Session.ID, models.SessionStatusRevoked))

		_, err = s.service.Refresh(ctx, auth.RefreshToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.NotErrorIs(err, ErrSessionEvicted)
	})

	s.Run("expired session", func() {
		auth, err := s.service.CreateAnonymous(ctx, Device{})
		s.Require().NoError(err)
		s.clk.Advance(25 * time.Hour)

		_, err = s.service.Refresh(ctx, auth.RefreshToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

// The oldest session over the per-user cap is evicted, and its next refresh
// fails with the distinct eviction error rather than a generic rejection.
func (s *ServiceSuite) TestSessionCapEvictsOldest() {
	ctx := context.Background()

	first := s.signInViaLink("busy-bee@example.com", uuid.Nil)
	var rest []*AuthSession
	for i := 0; i < 3; i++ {
		s.clk.Advance(time.Minute)
		rest = append(rest, s.signInViaLink("busy-bee@example.com", uuid.Nil))
	}

	got, err := s.sessions.FindByID(ctx, first.Session.ID)
	s.Require().NoError(err)
	s.Equal(models.SessionStatusEvicted, got.Status)

	s.Run("evicted session refresh reports eviction", func() {
		_, err := s.service.Refresh(ctx, first.RefreshToken)
		s.ErrorIs(err, ErrSessionEvicted)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("remaining sessions unaffected", func() {
		for _, auth := range rest {
			got, err := s.sessions.FindByID(ctx, auth.Session.ID)
			s.Require().NoError(err)
			s.Equal(models.SessionStatusActive, got.Status)
		}
	})
}

func (s *ServiceSuite) TestSignOut() {
	ctx := context.Background()

	s.Run("invalid token is swallowed", func() {
		s.NoError(s.service.SignOut(ctx, ""))
		s.NoError(s.service.SignOut(ctx, "never-issued"))
	})

	s.Run("revokes session and drops refresh tokens", func() {
		auth, err := s.service.CreateAnonymous(ctx, Device{})
		s.Require().NoError(err)

		s.Require().NoError(s.service.SignOut(ctx, auth.RefreshToken))

		got, err := s.sessions.FindByID(ctx, auth.Session.ID)
		s.Require().NoError(err)
		s.Equal(models.SessionStatusRevoked, got.Status)

		_, err = s.service.Refresh(ctx, auth.RefreshToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		// Signing out twice is fine.
		s.NoError(s.service.SignOut(ctx, auth.RefreshToken))
	})
}
