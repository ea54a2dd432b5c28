package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthTokens is the short-lived credential set returned on every successful
// auth operation. The refresh token travels only in the httpOnly cookie and
// never appears in a response body.
type AuthTokens struct {
	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken,omitempty"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// MagicLinkToken is the server-held record for a one-time email link. Only a
// hash of the token value is stored; the raw value goes out in the email.
type MagicLinkToken struct {
	TokenHash string
	Email     string
	// UserID is set when the link was issued for an existing account
	// (anonymous upgrade or explicit linking).
	UserID    uuid.UUID
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// ValidateForConsume checks that the link is still consumable. The store
// calls this under its own lock so consumption stays atomic.
func (t *MagicLinkToken) ValidateForConsume(now time.Time) error {
	if t.Used {
		return ErrLinkAlreadyUsed
	}
	if now.After(t.ExpiresAt) {
		return ErrLinkExpired
	}
	return nil
}

// OAuthState is the server-held record binding an in-flight OAuth flow to the
// client that started it. Consumed exactly once; the provider recorded at
// issuance must match the provider presented at callback.
type OAuthState struct {
	State        string
	CodeVerifier string
	Provider     Provider
	// UserID ties the flow to the session that requested it so anonymous
	// data can be merged after the callback.
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// RefreshTokenRecord is a single-use rotation credential. Presenting an
// already used token invalidates nothing silently; the refresh fails.
type RefreshTokenRecord struct {
	TokenHash string
	SessionID uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
