package service

import (
	"context"
	"errors"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// SignOut revokes the session behind the presented refresh token and drops
// its refresh tokens. Best effort by contract: the client clears local state
// whatever this returns, so failures are logged, not surfaced.
func (s *Service) SignOut(ctx context.Context, rawRefreshToken string) error {
	if rawRefreshToken == "" {
		return nil
	}

	rec, err := s.refresh.Consume(ctx, HashToken(rawRefreshToken), s.clock.Now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) ||
			errors.Is(err, sentinel.ErrExpired) ||
			errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil
		}
		s.logger.ErrorContext(ctx, "sign-out token lookup failed", "error", err)
		return nil
	}

	if err := s.sessions.SetStatus(ctx, rec.SessionID, models.SessionStatusRevoked); err != nil &&
		!errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to revoke session", "error", err, "session_id", rec.SessionID)
	}
	if err := s.refresh.DeleteBySessionID(ctx, rec.SessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete refresh tokens", "error", err, "session_id", rec.SessionID)
	}

	s.logger.InfoContext(ctx, "session signed out", "session_id", rec.SessionID)
	return nil
}
