package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/internal/pkce"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// errInvalidState is the single rejection every OAuth state failure collapses
// into, identical in spirit to the magic link one: expired, replayed and
// unknown states are indistinguishable to the caller.
func errInvalidState() error {
	return dErrors.New(dErrors.CodeInvalidToken, "invalid or expired authorization")
}

// OAuthURLs starts a PKCE flow per configured provider. The verifier and
// anti-replay state are persisted server-side before any URL goes out, so a
// callback can only ever match a flow this service started.
func (s *Service) OAuthURLs(ctx context.Context, requesterID uuid.UUID) (*models.OAuthURLsResult, error) {
	result := &models.OAuthURLsResult{Providers: make(map[models.Provider]models.OAuthURL, len(s.providers))}
	now := s.clock.Now()

	for name, client := range s.providers {
		verifier, err := pkce.NewVerifier()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verifier")
		}
		state, err := pkce.NewState()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate state")
		}

		if err := s.states.Create(ctx, &models.OAuthState{
			State:        state,
			CodeVerifier: verifier,
			Provider:     name,
			UserID:       requesterID,
			ExpiresAt:    now.Add(s.cfg.OAuthStateTTL),
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store oauth state")
		}

		result.Providers[name] = models.OAuthURL{
			AuthorizeURL: client.AuthorizeURL(state, pkce.Challenge(verifier)),
		}
	}
	return result, nil
}

// OAuthCallback completes a PKCE flow: consume the state exactly once, check
// the provider recorded at issuance against the one presented now, exchange
// the code with the provider, then run the linking rules.
func (s *Service) OAuthCallback(ctx context.Context, req *models.OAuthCallbackRequest, device Device) (*AuthSession, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.states.Consume(ctx, req.State, s.clock.Now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			s.metrics.OAuthCallbacks.WithLabelValues(string(req.Provider), "invalid_state").Inc()
			return nil, errInvalidState()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume oauth state")
	}

	// Provider confusion guard: a code issued under provider A must not be
	// redeemable by presenting provider B.
	if rec.Provider != req.Provider {
		s.metrics.OAuthCallbacks.WithLabelValues(string(req.Provider), "provider_mismatch").Inc()
		s.logger.WarnContext(ctx, "oauth provider mismatch",
			"issued", rec.Provider, "presented", req.Provider)
		return nil, errInvalidState()
	}

	client, ok := s.providers[req.Provider]
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown provider")
	}

	ident, err := client.Exchange(ctx, req.Code, rec.CodeVerifier)
	if err != nil {
		s.metrics.OAuthCallbacks.WithLabelValues(string(req.Provider), "exchange_failed").Inc()
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrInvalidState) {
			return nil, errInvalidState()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "provider exchange failed")
	}

	user, scenario, err := s.resolveOAuthIdentity(ctx, ident, rec.UserID)
	if err != nil {
		s.metrics.OAuthCallbacks.WithLabelValues(string(req.Provider), "link_rejected").Inc()
		return nil, err
	}

	auth, err := s.newSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.metrics.OAuthCallbacks.WithLabelValues(string(req.Provider), "success").Inc()
	if scenario != "" {
		s.metrics.IdentitiesLinked.WithLabelValues(scenario).Inc()
	}
	s.logger.InfoContext(ctx, "oauth callback completed",
		"user_id", user.ID, "provider", req.Provider, "scenario", scenario)
	return auth, nil
}
