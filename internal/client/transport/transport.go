// Package transport provides the HTTP plumbing between the session controller
// and the identity service: a cookie jar for the server-managed refresh and
// CSRF cookies, and a RoundTripper that decorates outbound requests with the
// current credentials.
package transport

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"beacon/internal/client/custody"
)

// Cookie and header names of the identity service wire contract.
const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

// Decorator attaches the bearer token and, on state-changing methods, the
// CSRF double-submit header. The token is read from the custody cell at
// request time, never cached, so a rotation is picked up by the very next
// request.
type Decorator struct {
	base    http.RoundTripper
	cell    *custody.Cell
	jar     http.CookieJar
	baseURL *url.URL
}

// NewDecorator builds the decorator and its cookie jar. base may be nil, in
// which case http.DefaultTransport is used.
func NewDecorator(base http.RoundTripper, cell *custody.Cell, baseURL string) (*Decorator, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	// Single-origin client, so the default jar options are sufficient.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Decorator{base: base, cell: cell, jar: jar, baseURL: u}, nil
}

// Client returns an http.Client wired with the decorator and its jar.
func (d *Decorator) Client() *http.Client {
	return &http.Client{Transport: d, Jar: d.jar}
}

// CSRFToken reads the readable double-submit cookie set by the service, or ""
// when none has been issued yet.
func (d *Decorator) CSRFToken() string {
	for _, c := range d.jar.Cookies(d.baseURL) {
		if c.Name == CSRFCookieName {
			return c.Value
		}
	}
	return ""
}

func (d *Decorator) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone before mutating; RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())

	if token := d.cell.AccessToken(); token != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if mutating(r.Method) && r.Header.Get(CSRFHeaderName) == "" {
		if csrf := d.CSRFToken(); csrf != "" {
			r.Header.Set(CSRFHeaderName, csrf)
		}
	}
	return d.base.RoundTrip(r)
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
