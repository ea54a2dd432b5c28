package service

import (
	"context"
	"errors"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// RefreshOutcome is what a successful rotation returns: fresh tokens in the
// body, a fresh single-use refresh token for the cookie.
type RefreshOutcome struct {
	Result       models.RefreshResult
	RefreshToken string
	CSRFToken    string
}

// Refresh rotates the refresh token: the presented token is consumed (single
// use), the session is extended, and a new token pair plus refresh token is
// issued. A session dropped by the concurrency cap fails with
// ErrSessionEvicted so the client can tell eviction from ordinary expiry.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken string) (*RefreshOutcome, error) {
	if rawRefreshToken == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing refresh token")
	}

	now := s.clock.Now()
	rec, err := s.refresh.Consume(ctx, HashToken(rawRefreshToken), now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) ||
			errors.Is(err, sentinel.ErrExpired) ||
			errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume refresh token")
	}

	sess, err := s.sessions.FindByID(ctx, rec.SessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "session gone")
	}
	switch sess.Status {
	case models.SessionStatusEvicted:
		return nil, ErrSessionEvicted
	case models.SessionStatusRevoked:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session revoked")
	}
	if now.After(sess.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session expired")
	}

	user, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "user gone")
	}

	expiresAt := now.Add(s.cfg.SessionTTL)
	if err := s.sessions.Touch(ctx, sess.ID, now, expiresAt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance session")
	}
	sess.ExpiresAt = expiresAt

	auth, err := s.issueCredentials(ctx, user, sess, now)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenRefreshes.Inc()
	return &RefreshOutcome{
		Result: models.RefreshResult{
			AccessToken:      auth.Tokens.AccessToken,
			IDToken:          auth.Tokens.IDToken,
			ExpiresIn:        auth.Tokens.ExpiresIn,
			SessionExpiresAt: expiresAt,
		},
		RefreshToken: auth.RefreshToken,
		CSRFToken:    auth.CSRFToken,
	}, nil
}
