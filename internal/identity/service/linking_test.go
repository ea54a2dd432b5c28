package service

import (
	"context"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// Anonymous visitor claims a fresh address: same account, upgraded in place.
func (s *ServiceSuite) TestLinkAnonymousWithNewEmail() {
	ctx := context.Background()
	anon, err := s.service.CreateAnonymous(ctx, Device{})
	s.Require().NoError(err)

	auth := s.signInViaLink("newbie@example.com", anon.User.ID)

	s.Equal(anon.User.ID, auth.User.ID)
	s.Equal(models.RoleFree, auth.User.Role)
	s.Equal("newbie@example.com", auth.User.PrimaryEmail)
	s.True(auth.User.HasProvider(models.ProviderEmail))
}

// Anonymous visitor proves ownership of an already registered address: the
// anonymous record merges into the existing account and disappears.
func (s *ServiceSuite) TestLinkAnonymousMergesIntoExisting() {
	ctx := context.Background()
	existing := s.signInViaLink("owner@example.com", uuid.Nil)

	anon, err := s.service.CreateAnonymous(ctx, Device{})
	s.Require().NoError(err)

	auth := s.signInViaLink("owner@example.com", anon.User.ID)
	s.Equal(existing.User.ID, auth.User.ID)

	_, err = s.users.FindByID(ctx, anon.User.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// A verified account presenting a link for an address some other account owns
// is a hard conflict, never a silent merge.
func (s *ServiceSuite) TestLinkForeignEmailConflict() {
	ctx := context.Background()
	s.signInViaLink("alice@example.com", uuid.Nil)
	bob := s.signInViaLink("bob@example.com", uuid.Nil)

	err := s.service.RequestMagicLink(ctx, &models.MagicLinkRequest{Email: "alice@example.com"}, bob.User.ID)
	s.Require().NoError(err)

	_, err = s.service.VerifyMagicLink(ctx, s.lastLinkToken("alice@example.com"), Device{})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Run("accounts unchanged", func() {
		bobAfter, err := s.users.FindByID(ctx, bob.User.ID)
		s.Require().NoError(err)
		s.Equal("bob@example.com", bobAfter.PrimaryEmail)
	})
}

// An OAuth-backed account adding an email credential: the link click is the
// verification.
func (s *ServiceSuite) TestLinkEmailToOAuthAccount() {
	auth := s.oauthSignIn(s.google, "oauth-first@example.com", true, uuid.Nil)
	s.Require().Equal([]models.Provider{models.ProviderGoogle}, auth.User.LinkedProviders)

	// Claims a second, previously unknown address.
	linked := s.signInViaLink("second-address@example.com", auth.User.ID)

	s.Equal(auth.User.ID, linked.User.ID)
	s.True(linked.User.HasProvider(models.ProviderEmail))
	s.True(linked.User.HasProvider(models.ProviderGoogle))
}

// Re-signing in to the account that owns the address links nothing new.
func (s *ServiceSuite) TestLinkPlainSignIn() {
	first := s.signInViaLink("steady@example.com", uuid.Nil)
	again := s.signInViaLink("steady@example.com", uuid.Nil)

	s.Equal(first.User.ID, again.User.ID)
	s.Equal([]models.Provider{models.ProviderEmail}, again.User.LinkedProviders)
}

// Linking is append-only: gaining a provider never drops one.
func (s *ServiceSuite) TestLinkedProvidersAppendOnly() {
	auth := s.signInViaLink("collector@example.com", uuid.Nil)

	withGoogle := s.oauthSignIn(s.google, "collector@example.com", true, uuid.Nil)
	s.Equal(auth.User.ID, withGoogle.User.ID)
	s.ElementsMatch(
		[]models.Provider{models.ProviderEmail, models.ProviderGoogle},
		withGoogle.User.LinkedProviders,
	)

	withGitHub := s.oauthSignIn(s.github, "collector@example.com", true, uuid.Nil)
	s.ElementsMatch(
		[]models.Provider{models.ProviderEmail, models.ProviderGoogle, models.ProviderGitHub},
		withGitHub.User.LinkedProviders,
	)
}
