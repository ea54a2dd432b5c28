package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// errInvalidLink is the single rejection every magic link failure collapses
// into. Distinguishing expired from used from unknown would leak information
// to whoever holds a stolen or guessed token.
func errInvalidLink() error {
	return dErrors.New(dErrors.CodeInvalidToken, "invalid or expired link")
}

// RequestMagicLink issues a one-time login link for the email address.
// The response is a generic acknowledgment regardless of whether the address
// maps to an account, so the endpoint cannot be used for enumeration.
// requesterID, when non-nil, ties the link to the session that asked for it
// so an anonymous account can be upgraded on verification.
func (s *Service) RequestMagicLink(ctx context.Context, req *models.MagicLinkRequest, requesterID uuid.UUID) error {
	if req == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	if !s.linkRate.Allow(req.Email) {
		return dErrors.New(dErrors.CodeRateLimited, "too many link requests, try again later")
	}

	raw, err := randomToken()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate link token")
	}

	now := s.clock.Now()
	link := &models.MagicLinkToken{
		TokenHash: HashToken(raw),
		Email:     req.Email,
		UserID:    requesterID,
		ExpiresAt: now.Add(s.cfg.MagicLinkTTL),
		CreatedAt: now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store link")
	}

	// Token travels in the URL path, not the query string, so it cannot
	// leak through Referer headers.
	url := fmt.Sprintf("%s/auth/magic-link/verify/%s", s.cfg.VerifyBaseURL, raw)
	if err := s.mailer.SendMagicLink(ctx, req.Email, url); err != nil {
		// The ack stays generic; delivery problems are ours, not the
		// caller's signal to probe with.
		s.logger.ErrorContext(ctx, "magic link delivery failed", "error", err)
	}

	s.metrics.MagicLinksRequested.Inc()
	return nil
}

// VerifyMagicLink consumes a one-time token and signs the holder in,
// running the identity linking rules. Consumption is atomic in the store:
// two concurrent calls with the same token cannot both succeed.
func (s *Service) VerifyMagicLink(ctx context.Context, rawToken string, device Device) (*AuthSession, error) {
	if rawToken == "" {
		return nil, errInvalidLink()
	}

	link, err := s.links.Consume(ctx, HashToken(rawToken), s.clock.Now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) ||
			errors.Is(err, sentinel.ErrExpired) ||
			errors.Is(err, sentinel.ErrAlreadyUsed) ||
			errors.Is(err, sentinel.ErrInvalidState) {
			return nil, errInvalidLink()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume link")
	}

	user, scenario, err := s.resolveEmailLink(ctx, link)
	if err != nil {
		return nil, err
	}

	auth, err := s.newSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.metrics.MagicLinksVerified.Inc()
	if scenario != "" {
		s.metrics.IdentitiesLinked.WithLabelValues(scenario).Inc()
	}
	s.logger.InfoContext(ctx, "magic link verified",
		"user_id", user.ID, "scenario", scenario)
	return auth, nil
}
