// Package provider abstracts the upstream OAuth identity providers. The
// service only needs two things from a provider: an authorize URL to send the
// user to, and a code exchange that honors PKCE.
package provider

import (
	"context"

	"beacon/internal/identity/models"
)

// Identity is what a provider asserts about the user after a code exchange.
type Identity struct {
	Provider      models.Provider
	Subject       string
	Email         string
	EmailVerified bool
}

// Client is one upstream OAuth provider.
type Client interface {
	// AuthorizeURL builds the provider authorize URL carrying the
	// anti-replay state and the PKCE challenge.
	AuthorizeURL(state, codeChallenge string) string
	// Exchange redeems an authorization code together with the PKCE
	// verifier recorded when the flow started.
	Exchange(ctx context.Context, code, codeVerifier string) (Identity, error)
}

// Registry maps provider names to clients.
type Registry map[models.Provider]Client
