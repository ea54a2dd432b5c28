package models

import (
	"strings"
	"time"

	dErrors "beacon/pkg/domain-errors"
)

// MagicLinkRequest asks for a one-time login link.
type MagicLinkRequest struct {
	Email string `json:"email"`
}

func (r *MagicLinkRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *MagicLinkRequest) Validate() error {
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeBadRequest, "valid email is required")
	}
	return nil
}

// OAuthCallbackRequest carries the provider redirect result back to the service.
type OAuthCallbackRequest struct {
	Provider Provider `json:"provider"`
	Code     string   `json:"code"`
	State    string   `json:"state"`
}

func (r *OAuthCallbackRequest) Validate() error {
	if r.Provider == "" {
		return dErrors.New(dErrors.CodeBadRequest, "provider is required")
	}
	if r.Code == "" || r.State == "" {
		return dErrors.New(dErrors.CodeBadRequest, "code and state are required")
	}
	return nil
}

// AnonymousResult is the response to POST /auth/anonymous.
type AnonymousResult struct {
	UserID           string     `json:"userId"`
	CreatedAt        time.Time  `json:"createdAt"`
	SessionExpiresAt time.Time  `json:"sessionExpiresAt"`
	Tokens           AuthTokens `json:"tokens"`
}

// AuthResult is the response to a successful verification (magic link or
// OAuth callback).
type AuthResult struct {
	User             *User      `json:"user"`
	Tokens           AuthTokens `json:"tokens"`
	SessionExpiresAt time.Time  `json:"sessionExpiresAt"`
}

// RefreshResult is the response to POST /auth/refresh.
type RefreshResult struct {
	AccessToken      string    `json:"accessToken"`
	IDToken          string    `json:"idToken,omitempty"`
	ExpiresIn        int64     `json:"expiresIn"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
}

// OAuthURL is one provider's authorize URL.
type OAuthURL struct {
	AuthorizeURL string `json:"authorizeUrl"`
}

// OAuthURLsResult maps provider name to authorize URL.
type OAuthURLsResult struct {
	Providers map[Provider]OAuthURL `json:"providers"`
}
