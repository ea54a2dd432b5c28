package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beacon/internal/identity/models"
	"beacon/internal/identity/service"
	"beacon/internal/identity/token"
	"beacon/internal/platform/metrics"
	dErrors "beacon/pkg/domain-errors"
)

// Handler is the HTTP layer of the identity service. It delegates to the
// service and keeps transport concerns (cookies, CSRF, status mapping) out of
// business logic.
type Handler struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	svc        *service.Service
	tokens     *token.Manager
	refreshTTL time.Duration

	// EnableDevRoutes exposes the role override endpoint used to simulate
	// payment webhooks. Never on in production.
	EnableDevRoutes bool
}

func New(svc *service.Service, tokens *token.Manager, refreshTTL time.Duration, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:     logger,
		metrics:    m,
		svc:        svc,
		tokens:     tokens,
		refreshTTL: refreshTTL,
	}
}

// Routes builds the service router. Refresh, the OAuth callback and the
// anonymous bootstrap sit outside the CSRF guard; everything else mutating
// goes through it.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recovery(h.logger))

	// CSRF-exempt endpoints, each with its own protection.
	r.Post("/auth/anonymous", observe(h.metrics, "anonymous", h.handleAnonymous))
	r.Post("/auth/refresh", observe(h.metrics, "refresh", h.handleRefresh))
	r.Post("/auth/oauth/callback", observe(h.metrics, "oauth_callback", h.handleOAuthCallback))

	// Read-only endpoints.
	r.Get("/auth/magic-link/verify/{token}", observe(h.metrics, "magic_link_verify", h.handleVerifyMagicLink))
	r.With(optionalAuth(h.tokens)).Get("/auth/oauth/urls", observe(h.metrics, "oauth_urls", h.handleOAuthURLs))
	r.With(requireAuth(h.tokens, h.logger)).Get("/auth/profile", observe(h.metrics, "profile", h.handleProfile))
	r.With(requireAuth(h.tokens, h.logger)).Get("/auth/sessions", observe(h.metrics, "sessions", h.handleSessions))

	// Double-submit guarded mutations.
	r.Group(func(g chi.Router) {
		g.Use(csrfGuard(h.metrics))
		g.With(optionalAuth(h.tokens)).Post("/auth/magic-link", observe(h.metrics, "magic_link_request", h.handleRequestMagicLink))
		g.Post("/auth/signout", observe(h.metrics, "signout", h.handleSignOut))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if h.EnableDevRoutes {
		r.Post("/dev/users/{userID}/role", h.handleSetRole)
	}

	return r
}

func deviceFrom(r *http.Request) service.Device {
	return service.Device{
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	}
}

func (h *Handler) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	auth, err := h.svc.CreateAnonymous(r.Context(), deviceFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookies(w, auth.RefreshToken, auth.CSRFToken, h.refreshTTL)
	writeJSON(w, http.StatusCreated, models.AnonymousResult{
		UserID:           auth.User.ID.String(),
		CreatedAt:        auth.User.CreatedAt,
		SessionExpiresAt: auth.Session.ExpiresAt,
		Tokens:           auth.Tokens,
	})
}

func (h *Handler) handleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req models.MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.svc.RequestMagicLink(r.Context(), &req, UserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	// Generic acknowledgment: the same body whether or not the address
	// exists.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the address is valid, a link is on its way",
	})
}

func (h *Handler) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	rawToken := chi.URLParam(r, "token")

	auth, err := h.svc.VerifyMagicLink(r.Context(), rawToken, deviceFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookies(w, auth.RefreshToken, auth.CSRFToken, h.refreshTTL)
	writeJSON(w, http.StatusOK, models.AuthResult{
		User:             auth.User,
		Tokens:           auth.Tokens,
		SessionExpiresAt: auth.Session.ExpiresAt,
	})
}

func (h *Handler) handleOAuthURLs(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.OAuthURLs(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req models.OAuthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	auth, err := h.svc.OAuthCallback(r.Context(), &req, deviceFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookies(w, auth.RefreshToken, auth.CSRFToken, h.refreshTTL)
	writeJSON(w, http.StatusOK, models.AuthResult{
		User:             auth.User,
		Tokens:           auth.Tokens,
		SessionExpiresAt: auth.Session.ExpiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing refresh token"))
		return
	}

	outcome, err := h.svc.Refresh(r.Context(), cookie.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookies(w, outcome.RefreshToken, outcome.CSRFToken, h.refreshTTL)
	writeJSON(w, http.StatusOK, outcome.Result)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		raw = cookie.Value
	}

	// Best effort: local cookies are cleared whatever the service says.
	if err := h.svc.SignOut(r.Context(), raw); err != nil {
		h.logger.ErrorContext(r.Context(), "sign-out failed", "error", err)
	}
	clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Profile(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.Sessions(r.Context(), UserID(r.Context()), SessionID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SessionsResult{Sessions: summaries})
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUUIDParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Role  models.Role `json:"role"`
		Force bool        `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	user, err := h.svc.SetRole(r.Context(), userID, req.Role, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
