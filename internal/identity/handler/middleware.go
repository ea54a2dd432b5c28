package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"beacon/internal/identity/token"
	"beacon/internal/platform/metrics"
	dErrors "beacon/pkg/domain-errors"
)

type contextKeyUserID struct{}
type contextKeySessionID struct{}

// UserID retrieves the authenticated user ID from the context, or uuid.Nil.
func UserID(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(contextKeyUserID{}).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

// SessionID retrieves the session ID from the context, or uuid.Nil.
func SessionID(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(contextKeySessionID{}).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid %s", name)
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func withClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	if userID, err := uuid.Parse(claims.Subject); err == nil {
		ctx = context.WithValue(ctx, contextKeyUserID{}, userID)
	}
	if sessionID, err := uuid.Parse(claims.SessionID); err == nil {
		ctx = context.WithValue(ctx, contextKeySessionID{}, sessionID)
	}
	return ctx
}

// requireAuth rejects requests without a valid bearer token and stores the
// claims in the request context.
func requireAuth(validator *token.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			claims, err := validator.Validate(raw)
			if err != nil {
				logger.DebugContext(r.Context(), "bearer token rejected", "error", err)
				writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// optionalAuth stores claims when a valid bearer token is present and lets
// the request through either way. Used where an anonymous session may or may
// not exist yet.
func optionalAuth(validator *token.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				if claims, err := validator.Validate(raw); err == nil {
					r = r.WithContext(withClaims(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observe records request latency per route.
func observe(m *metrics.Metrics, route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// recovery converts panics into 500s so one bad request cannot take the
// server down.
func recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic in handler", "panic", rec, "path", r.URL.Path)
					writeError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
