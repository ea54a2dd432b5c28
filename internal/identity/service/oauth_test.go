package service

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/internal/identity/provider"
	dErrors "beacon/pkg/domain-errors"
)

// startOAuth runs OAuthURLs and extracts the state and PKCE challenge for
// one provider from its authorize URL.
func (s *ServiceSuite) startOAuth(name models.Provider, requesterID uuid.UUID) (state, challenge string) {
	urls, err := s.service.OAuthURLs(context.Background(), requesterID)
	s.Require().NoError(err)

	raw, ok := urls.Providers[name]
	s.Require().True(ok, "no authorize URL for %s", name)
	parsed, err := url.Parse(raw.AuthorizeURL)
	s.Require().NoError(err)

	q := parsed.Query()
	s.Require().NotEmpty(q.Get("state"))
	s.Require().NotEmpty(q.Get("code_challenge"))
	s.Require().Equal("S256", q.Get("code_challenge_method"))
	return q.Get("state"), q.Get("code_challenge")
}

// oauthSignIn drives the full PKCE flow against a fake provider.
func (s *ServiceSuite) oauthSignIn(p *provider.Fake, email string, verified bool, requesterID uuid.UUID) *AuthSession {
	name := models.ProviderGoogle
	if p == s.github {
		name = models.ProviderGitHub
	}
	state, challenge := s.startOAuth(name, requesterID)
	code := p.IssueCode(provider.Identity{
		Subject:       "subject-" + email,
		Email:         email,
		EmailVerified: verified,
	}, challenge)

	auth, err := s.service.OAuthCallback(context.Background(), &models.OAuthCallbackRequest{
		Provider: name,
		Code:     code,
		State:    state,
	}, Device{})
	s.Require().NoError(err)
	return auth
}

func (s *ServiceSuite) TestOAuthCallbackNewUser() {
	auth := s.oauthSignIn(s.google, "gina@example.com", true, uuid.Nil)

	s.Equal(models.RoleFree, auth.User.Role)
	s.Equal("gina@example.com", auth.User.PrimaryEmail)
	s.Equal([]models.Provider{models.ProviderGoogle}, auth.User.LinkedProviders)
	s.NotEmpty(auth.Tokens.AccessToken)
}

func (s *ServiceSuite) TestOAuthStateReplayRejected() {
	ctx := context.Background()
	state, challenge := s.startOAuth(models.ProviderGoogle, uuid.Nil)
	code := s.google.IssueCode(provider.Identity{Email: "replay@example.com", EmailVerified: true}, challenge)

	_, err := s.service.OAuthCallback(ctx, &models.OAuthCallbackRequest{
		Provider: models.ProviderGoogle, Code: code, State: state,
	}, Device{})
	s.Require().NoError(err)

	// Same state again: consumed, indistinguishable from never-issued.
	code2 := s.google.IssueCode(provider.Identity{Email: "replay@example.com", EmailVerified: true}, challenge)
	_, err = s.service.OAuthCallback(ctx, &models.OAuthCallbackRequest{
		Provider: models.ProviderGoogle, Code: code2, State: state,
	}, Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	s.EqualError(err, "invalid or expired authorization")
}

// A state issued for provider A must not be redeemable under provider B.
func (s *ServiceSuite) TestOAuthProviderConfusionRejected() {
	state, challenge := s.startOAuth(models.ProviderGoogle, uuid.Nil)
	code := s.github.IssueCode(provider.Identity{Email: "confused@example.com", EmailVerified: true}, challenge)

	_, err := s.service.OAuthCallback(context.Background(), &models.OAuthCallbackRequest{
		Provider: models.ProviderGitHub, Code: code, State: state,
	}, Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	s.EqualError(err, "invalid or expired authorization")
}

func (s *ServiceSuite) TestOAuthExpiredStateRejected() {
	state, challenge := s.startOAuth(models.ProviderGoogle, uuid.Nil)
	code := s.google.IssueCode(provider.Identity{Email: "late@example.com", EmailVerified: true}, challenge)

	s.clk.Advance(6 * time.Minute) // past the 5 minute state TTL

	_, err := s.service.OAuthCallback(context.Background(), &models.OAuthCallbackRequest{
		Provider: models.ProviderGoogle, Code: code, State: state,
	}, Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
}

// Anonymous upgrade through OAuth requires the provider to have verified the
// email before the merge claims it.
func (s *ServiceSuite) TestOAuthUnverifiedEmailBlocksAnonymousUpgrade() {
	ctx := context.Background()
	anon, err := s.service.CreateAnonymous(ctx, Device{})
	s.Require().NoError(err)

	state, challenge := s.startOAuth(models.ProviderGoogle, anon.User.ID)
	code := s.google.IssueCode(provider.Identity{Email: "unverified@example.com", EmailVerified: false}, challenge)

	_, err = s.service.OAuthCallback(ctx, &models.OAuthCallbackRequest{
		Provider: models.ProviderGoogle, Code: code, State: state,
	}, Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// An OAuth merge abandons any magic link still pending for the address.
func (s *ServiceSuite) TestOAuthUpgradeAbandonsPendingLink() {
	ctx := context.Background()
	anon, err := s.service.CreateAnonymous(ctx, Device{})
	s.Require().NoError(err)

	err = s.service.RequestMagicLink(ctx, &models.MagicLinkRequest{Email: "eager@example.com"}, anon.User.ID)
	s.Require().NoError(err)
	pendingToken := s.lastLinkToken("eager@example.com")

	auth := s.oauthSignIn(s.google, "eager@example.com", true, anon.User.ID)
	s.Equal(anon.User.ID, auth.User.ID)
	s.Equal(models.RoleFree, auth.User.Role)

	_, err = s.service.VerifyMagicLink(ctx, pendingToken, Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
}
