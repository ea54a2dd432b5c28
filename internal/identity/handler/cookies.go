package handler

import (
	"net/http"
	"time"
)

const (
	// RefreshCookieName holds the opaque refresh token. httpOnly and path
	// scoped: script cannot read it, and it only travels to /auth.
	RefreshCookieName = "refresh_token"
	// CSRFCookieName is readable by script; its value is echoed in the
	// X-CSRF-Token header on mutating requests (double submit).
	CSRFCookieName = "csrf_token"
	// CSRFHeaderName is the header half of the double submit pair.
	CSRFHeaderName = "X-CSRF-Token"

	refreshCookiePath = "/auth"
)

// setAuthCookies issues the refresh and CSRF cookies after a successful auth
// operation. Neither cookie ever contains the access token.
func setAuthCookies(w http.ResponseWriter, refreshToken, csrfToken string, refreshTTL time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// clearAuthCookies removes both cookies on sign-out.
func clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
