// Package api is the typed client for the identity service. It speaks the
// same DTOs the service emits and translates the error envelope back into
// coded errors, so callers branch on codes rather than HTTP statuses.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
)

// ErrSessionEvicted is returned when the service reports the session lost the
// per-user concurrency race. Callers distinguish it from ordinary credential
// expiry with errors.Is.
var ErrSessionEvicted = errors.New("session evicted by a newer sign-in")

// Client calls the identity service. The http.Client is expected to carry the
// transport decorator and cookie jar, so bearer and CSRF handling happen below
// this layer.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// CreateAnonymous provisions a fresh anonymous identity and session.
func (c *Client) CreateAnonymous(ctx context.Context) (*models.AnonymousResult, error) {
	var out models.AnonymousResult
	if err := c.do(ctx, http.MethodPost, "/auth/anonymous", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestMagicLink asks the service to mail a one-time login link. The service
// acknowledges without revealing whether the address is known.
func (c *Client) RequestMagicLink(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/magic-link", models.MagicLinkRequest{Email: email}, nil)
}

// VerifyMagicLink redeems a one-time link token. sig is the legacy signature
// query parameter some mailed links still carry; it is forwarded untouched
// and the service ignores it.
func (c *Client) VerifyMagicLink(ctx context.Context, token, sig string) (*models.AuthResult, error) {
	var out models.AuthResult
	path := "/auth/magic-link/verify/" + url.PathEscape(token)
	if sig != "" {
		path += "?sig=" + url.QueryEscape(sig)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuthURLs fetches per-provider authorize URLs. Calling this arms the
// corresponding state records server-side.
func (c *Client) OAuthURLs(ctx context.Context) (*models.OAuthURLsResult, error) {
	var out models.OAuthURLsResult
	if err := c.do(ctx, http.MethodGet, "/auth/oauth/urls", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuthCallback completes the code exchange after the provider redirect.
func (c *Client) OAuthCallback(ctx context.Context, req models.OAuthCallbackRequest) (*models.AuthResult, error) {
	var out models.AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/oauth/callback", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates the credentials using the httpOnly refresh cookie.
func (c *Client) Refresh(ctx context.Context) (*models.RefreshResult, error) {
	var out models.RefreshResult
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut revokes the current session. The service treats this as best-effort,
// so a failure here does not block local teardown.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/signout", nil, nil)
}

// Profile fetches the caller's current user record.
func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists the caller's active sessions.
func (c *Client) Sessions(ctx context.Context) (*models.SessionsResult, error) {
	var out models.SessionsResult
	if err := c.do(ctx, http.MethodGet, "/auth/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decode response")
		}
	}
	return nil
}

// errorEnvelope mirrors the service's JSON error shape.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (c *Client) decodeError(resp *http.Response) error {
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error == "" {
		return dErrors.Newf(codeForStatus(resp.StatusCode), "identity service returned %s", resp.Status)
	}
	if env.Reason == models.ReasonSessionEvicted {
		return dErrors.Wrap(ErrSessionEvicted, dErrors.CodeUnauthorized, env.Message)
	}
	return dErrors.New(dErrors.Code(env.Error), env.Message)
}

func codeForStatus(status int) dErrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return dErrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return dErrors.CodeForbidden
	case status == http.StatusNotFound:
		return dErrors.CodeNotFound
	case status == http.StatusConflict:
		return dErrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return dErrors.CodeRateLimited
	case status >= 500:
		return dErrors.CodeUnavailable
	default:
		return dErrors.CodeBadRequest
	}
}

// Permanent reports whether err is a definitive rejection that retrying
// cannot fix, as opposed to a transient transport or dependency failure.
func Permanent(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeUnauthorized, dErrors.CodeForbidden,
		dErrors.CodeNotFound, dErrors.CodeConflict, dErrors.CodeInvalidToken:
		return true
	default:
		return false
	}
}
