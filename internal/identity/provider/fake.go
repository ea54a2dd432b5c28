package provider

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"beacon/internal/identity/models"
	"beacon/internal/pkce"
	"beacon/pkg/platform/sentinel"
)

// Fake is an in-process provider for development and conformance tests. It
// issues authorization codes bound to a PKCE challenge and rejects exchanges
// whose verifier does not match, the same check a real provider performs.
type Fake struct {
	name    models.Provider
	baseURL string

	mu    sync.Mutex
	codes map[string]fakeGrant
	next  int
}

type fakeGrant struct {
	identity  Identity
	challenge string
}

func NewFake(name models.Provider, baseURL string) *Fake {
	return &Fake{name: name, baseURL: baseURL, codes: make(map[string]fakeGrant)}
}

func (f *Fake) AuthorizeURL(state, codeChallenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return fmt.Sprintf("%s/authorize?%s", f.baseURL, q.Encode())
}

// IssueCode simulates the user approving the provider consent screen.
// The challenge must be the one carried in the authorize URL.
func (f *Fake) IssueCode(identity Identity, codeChallenge string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	code := fmt.Sprintf("%s-code-%d", f.name, f.next)
	identity.Provider = f.name
	f.codes[code] = fakeGrant{identity: identity, challenge: codeChallenge}
	return code
}

func (f *Fake) Exchange(_ context.Context, code, codeVerifier string) (Identity, error) {
	f.mu.Lock()
	grant, ok := f.codes[code]
	if ok {
		delete(f.codes, code)
	}
	f.mu.Unlock()

	if !ok {
		return Identity{}, fmt.Errorf("unknown authorization code: %w", sentinel.ErrNotFound)
	}
	if !pkce.VerifyChallenge(codeVerifier, grant.challenge) {
		return Identity{}, fmt.Errorf("code verifier mismatch: %w", sentinel.ErrInvalidState)
	}
	return grant.identity, nil
}
