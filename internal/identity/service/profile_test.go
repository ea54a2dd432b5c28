package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
)

func (s *ServiceSuite) TestProfile() {
	ctx := context.Background()
	auth := s.signInViaLink("who@example.com", uuid.Nil)

	user, err := s.service.Profile(ctx, auth.User.ID)
	s.Require().NoError(err)
	s.Equal("who@example.com", user.PrimaryEmail)

	_, err = s.service.Profile(ctx, uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestSessionsListsCurrent() {
	ctx := context.Background()
	first := s.signInViaLink("multi@example.com", uuid.Nil)
	s.clk.Advance(time.Minute)
	second := s.signInViaLink("multi@example.com", uuid.Nil)

	summaries, err := s.service.Sessions(ctx, first.User.ID, second.Session.ID)
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)

	// Oldest first, current one flagged.
	s.Equal(first.Session.ID.String(), summaries[0].SessionID)
	s.False(summaries[0].IsCurrent)
	s.Equal(second.Session.ID.String(), summaries[1].SessionID)
	s.True(summaries[1].IsCurrent)
}

func (s *ServiceSuite) TestSetRole() {
	ctx := context.Background()
	auth := s.signInViaLink("tier@example.com", uuid.Nil)

	s.Run("upgrade", func() {
		user, err := s.service.SetRole(ctx, auth.User.ID, models.RolePaid, false)
		s.Require().NoError(err)
		s.Equal(models.RolePaid, user.Role)
	})

	s.Run("downgrade needs force", func() {
		_, err := s.service.SetRole(ctx, auth.User.ID, models.RoleFree, false)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		user, err := s.service.SetRole(ctx, auth.User.ID, models.RoleFree, true)
		s.Require().NoError(err)
		s.Equal(models.RoleFree, user.Role)
	})

	s.Run("unknown user", func() {
		_, err := s.service.SetRole(ctx, uuid.New(), models.RolePaid, false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
