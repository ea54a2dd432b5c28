package service

import (
	"context"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
)

// CreateAnonymous mints a brand new anonymous user and a session for it.
// This is the zero-friction entry point: no input, no failure the caller can
// correct, every dashboard visitor gets one.
func (s *Service) CreateAnonymous(ctx context.Context, device Device) (*AuthSession, error) {
	now := s.clock.Now()
	user := &models.User{
		ID:        uuid.New(),
		Role:      models.RoleAnonymous,
		CreatedAt: now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create anonymous user")
	}

	auth, err := s.newSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.metrics.AnonymousSessionsCreated.Inc()
	s.logger.InfoContext(ctx, "anonymous session created",
		"user_id", user.ID, "session_id", auth.Session.ID)
	return auth, nil
}
