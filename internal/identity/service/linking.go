package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	"beacon/internal/identity/provider"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// Linking scenario labels, used for metrics and logs.
const (
	scenarioAnonymousEmail = "anonymous_email"
	scenarioAnonymousOAuth = "anonymous_oauth"
	scenarioEmailAutoLink  = "email_oauth_autolink"
	scenarioOAuthThenEmail = "oauth_then_email"
	scenarioSecondProvider = "second_provider"
)

// errEmailConflict is the hard rejection for presenting a credential whose
// email already belongs to a different account. No silent merge, and no hint
// about which account owns the address.
func errEmailConflict() error {
	return dErrors.New(dErrors.CodeConflict, "email already linked to another account")
}

// resolveEmailLink applies the linking rules after a magic link is consumed.
// Returns the user to sign in and the scenario label (empty for a plain
// sign-in with nothing newly linked).
func (s *Service) resolveEmailLink(ctx context.Context, link *models.MagicLinkToken) (*models.User, string, error) {
	existing, err := s.findUserByEmail(ctx, link.Email)
	if err != nil {
		return nil, "", err
	}
	requester, err := s.findUserByID(ctx, link.UserID)
	if err != nil {
		return nil, "", err
	}

	switch {
	case existing == nil && requester == nil:
		// Fresh verified account straight from the link.
		user := &models.User{
			ID:              uuid.New(),
			Role:            models.RoleFree,
			LinkedProviders: []models.Provider{models.ProviderEmail},
			PrimaryEmail:    link.Email,
			CreatedAt:       s.clock.Now(),
		}
		if err := s.users.Save(ctx, user); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
		}
		return user, scenarioAnonymousEmail, nil

	case existing == nil:
		// The requesting account claims this address. For an anonymous
		// requester this is the upgrade path; for an OAuth-backed account
		// the link click itself is the email verification.
		scenario := scenarioOAuthThenEmail
		if requester.Role == models.RoleAnonymous {
			scenario = scenarioAnonymousEmail
		}
		requester.LinkProvider(models.ProviderEmail)
		if requester.PrimaryEmail == "" {
			requester.PrimaryEmail = link.Email
		}
		requester.Verify()
		if err := s.users.Save(ctx, requester); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link email")
		}
		return requester, scenario, nil

	case requester == nil || requester.ID == existing.ID:
		// Plain sign-in to the account that owns the address.
		scenario := ""
		if !existing.HasProvider(models.ProviderEmail) {
			existing.LinkProvider(models.ProviderEmail)
			scenario = scenarioOAuthThenEmail
			if err := s.users.Save(ctx, existing); err != nil {
				return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link email")
			}
		}
		return existing, scenario, nil

	case requester.Role == models.RoleAnonymous:
		// Anonymous visitor proving ownership of an existing account:
		// the anonymous record merges into the verified one and is gone.
		if err := s.mergeAnonymousInto(ctx, requester, existing); err != nil {
			return nil, "", err
		}
		return existing, scenarioAnonymousEmail, nil

	default:
		// A verified account presented a link for an address some other
		// account owns.
		return nil, "", errEmailConflict()
	}
}

// resolveOAuthIdentity applies the linking rules after a provider code
// exchange.
func (s *Service) resolveOAuthIdentity(ctx context.Context, ident provider.Identity, flowUserID uuid.UUID) (*models.User, string, error) {
	existing, err := s.findUserByEmail(ctx, ident.Email)
	if err != nil {
		return nil, "", err
	}
	requester, err := s.findUserByID(ctx, flowUserID)
	if err != nil {
		return nil, "", err
	}

	switch {
	case existing == nil && requester == nil:
		user := &models.User{
			ID:              uuid.New(),
			Role:            models.RoleFree,
			LinkedProviders: []models.Provider{ident.Provider},
			CreatedAt:       s.clock.Now(),
		}
		if ident.EmailVerified {
			user.PrimaryEmail = ident.Email
		}
		if err := s.users.Save(ctx, user); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
		}
		return user, scenarioAnonymousOAuth, nil

	case existing == nil && requester.Role == models.RoleAnonymous:
		// Anonymous upgrade via OAuth: the provider must have verified
		// the email before we claim it for the merged account.
		if !ident.EmailVerified {
			return nil, "", dErrors.New(dErrors.CodeConflict, "provider email not verified")
		}
		requester.LinkProvider(ident.Provider)
		requester.PrimaryEmail = ident.Email
		requester.Verify()
		if err := s.users.Save(ctx, requester); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link provider")
		}
		// Any magic link still pending for this address belonged to the
		// pre-merge anonymous session; abandon it.
		if err := s.links.DeleteByEmail(ctx, ident.Email); err != nil {
			s.logger.ErrorContext(ctx, "failed to abandon pending magic links", "error", err)
		}
		return requester, scenarioAnonymousOAuth, nil

	case existing == nil:
		// Verified account adding another provider. Both credential types
		// are provider-verified, so this links without confirmation.
		requester.LinkProvider(ident.Provider)
		if err := s.users.Save(ctx, requester); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link provider")
		}
		return requester, scenarioSecondProvider, nil

	case requester == nil || requester.ID == existing.ID:
		// The provider asserts an email an account already owns: auto-link
		// when the provider verified it, hard reject otherwise.
		if !existing.HasProvider(ident.Provider) {
			if !ident.EmailVerified {
				return nil, "", errEmailConflict()
			}
			existing.LinkProvider(ident.Provider)
			if err := s.users.Save(ctx, existing); err != nil {
				return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link provider")
			}
			return existing, scenarioEmailAutoLink, nil
		}
		return existing, "", nil

	case requester.Role == models.RoleAnonymous:
		if !ident.EmailVerified {
			return nil, "", errEmailConflict()
		}
		if !existing.HasProvider(ident.Provider) {
			existing.LinkProvider(ident.Provider)
		}
		if err := s.mergeAnonymousInto(ctx, requester, existing); err != nil {
			return nil, "", err
		}
		return existing, scenarioAnonymousOAuth, nil

	default:
		return nil, "", errEmailConflict()
	}
}

// mergeAnonymousInto retires an anonymous record in favor of the verified
// account it merged into.
func (s *Service) mergeAnonymousInto(ctx context.Context, anon, target *models.User) error {
	if err := s.users.Save(ctx, target); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save merged account")
	}
	if err := s.users.Delete(ctx, anon.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to delete merged anonymous user",
			"error", err, "user_id", anon.ID)
	}
	return nil
}

func (s *Service) findUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user by email")
	}
	return u, nil
}

func (s *Service) findUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
	return u, nil
}
