package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"beacon/internal/clock"
	"beacon/internal/identity/models"
	"beacon/internal/identity/provider"
	"beacon/internal/identity/token"
	"beacon/internal/platform/metrics"
	dErrors "beacon/pkg/domain-errors"
)

// UserStore persists identity records.
type UserStore interface {
	Save(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MagicLinkStore persists one-time email link records, keyed by token hash.
type MagicLinkStore interface {
	Create(ctx context.Context, link *models.MagicLinkToken) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.MagicLinkToken, error)
	DeleteByEmail(ctx context.Context, email string) error
}

// OAuthStateStore persists in-flight OAuth state records.
type OAuthStateStore interface {
	Create(ctx context.Context, state *models.OAuthState) error
	Consume(ctx context.Context, state string, now time.Time) (*models.OAuthState, error)
}

// RefreshTokenStore persists single-use rotation credentials.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *models.RefreshTokenRecord) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshTokenRecord, error)
	DeleteBySessionID(ctx context.Context, sessionID uuid.UUID) error
}

// SessionStore tracks live server-side sessions.
type SessionStore interface {
	Create(ctx context.Context, rec *models.SessionRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SessionRecord, error)
	Touch(ctx context.Context, id uuid.UUID, now, expiresAt time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.SessionRecord, error)
	EvictOverCap(ctx context.Context, userID uuid.UUID, max int) ([]uuid.UUID, error)
}

// Mailer delivers magic links. Email delivery itself is an external
// collaborator; this is its interface.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// Config carries the service-level policy knobs.
type Config struct {
	SessionTTL         time.Duration
	RefreshTokenTTL    time.Duration
	MagicLinkTTL       time.Duration
	OAuthStateTTL      time.Duration
	MaxSessionsPerUser int
	// MagicLinkRatePerHour bounds link requests per email address.
	MagicLinkRatePerHour int
	// VerifyBaseURL is the public URL prefix for magic link verification,
	// with the token appended as a path element.
	VerifyBaseURL string
}

// Service implements the identity contract: anonymous sessions, magic link
// and OAuth verification, identity linking, refresh rotation and sign-out.
type Service struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock
	cfg       Config
	tokens    *token.Manager
	providers provider.Registry
	mailer    Mailer

	users     UserStore
	links     MagicLinkStore
	states    OAuthStateStore
	refresh   RefreshTokenStore
	sessions  SessionStore
	linkRate  *emailRateLimiter
}

// Stores bundles the persistence dependencies.
type Stores struct {
	Users         UserStore
	MagicLinks    MagicLinkStore
	OAuthStates   OAuthStateStore
	RefreshTokens RefreshTokenStore
	Sessions      SessionStore
}

func New(
	cfg Config,
	stores Stores,
	tokens *token.Manager,
	providers provider.Registry,
	mailer Mailer,
	logger *slog.Logger,
	m *metrics.Metrics,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		logger:    logger,
		metrics:   m,
		clock:     clk,
		cfg:       cfg,
		tokens:    tokens,
		providers: providers,
		mailer:    mailer,
		users:     stores.Users,
		links:     stores.MagicLinks,
		states:    stores.OAuthStates,
		refresh:   stores.RefreshTokens,
		sessions:  stores.Sessions,
		linkRate:  newEmailRateLimiter(cfg.MagicLinkRatePerHour, time.Hour, clk),
	}
}

// AuthSession is everything the transport layer needs after a successful auth
// operation: the body payload plus the cookie material. The raw refresh and
// CSRF tokens exist only on this path; stores hold hashes.
type AuthSession struct {
	User         *models.User
	Session      *models.SessionRecord
	Tokens       models.AuthTokens
	RefreshToken string
	CSRFToken    string
}

// Device captures transport metadata recorded on the session.
type Device struct {
	UserAgent string
	IPAddress string
}

// ErrSessionEvicted marks a refresh attempt against a session dropped by the
// per-user concurrency cap. Handlers surface it with a distinct reason so the
// client can transition to its evicted state.
var ErrSessionEvicted = dErrors.New(dErrors.CodeUnauthorized, "session evicted")

// newSession creates a session for the user, enforces the concurrency cap and
// mints the full credential set.
func (s *Service) newSession(ctx context.Context, user *models.User, device Device) (*AuthSession, error) {
	now := s.clock.Now()

	rec := &models.SessionRecord{
		ID:         uuid.New(),
		UserID:     user.ID,
		Status:     models.SessionStatusActive,
		Device:     deviceDisplayName(device.UserAgent),
		IPAddress:  device.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.SessionTTL),
		LastSeenAt: now,
	}
	if err := s.sessions.Create(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	evicted, err := s.sessions.EvictOverCap(ctx, user.ID, s.cfg.MaxSessionsPerUser)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enforce session cap")
	}
	// Evicted sessions keep their refresh tokens: the next refresh attempt
	// must find the session and fail with the distinct evicted reason, not a
	// generic unknown-token rejection.
	for _, id := range evicted {
		s.metrics.SessionsEvicted.Inc()
		s.logger.InfoContext(ctx, "session evicted by concurrency cap",
			"user_id", user.ID, "session_id", id)
	}

	return s.issueCredentials(ctx, user, rec, now)
}

// issueCredentials mints tokens for an existing session.
func (s *Service) issueCredentials(ctx context.Context, user *models.User, rec *models.SessionRecord, now time.Time) (*AuthSession, error) {
	tokens, err := s.tokens.Mint(user, rec.ID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint tokens")
	}

	rawRefresh, err := randomToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	if err := s.refresh.Create(ctx, &models.RefreshTokenRecord{
		TokenHash: HashToken(rawRefresh),
		SessionID: rec.ID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create refresh token")
	}

	csrf, err := randomToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate csrf token")
	}

	return &AuthSession{
		User:         user,
		Session:      rec,
		Tokens:       tokens,
		RefreshToken: rawRefresh,
		CSRFToken:    csrf,
	}, nil
}

// randomToken returns 32 bytes of crypto randomness, base64url encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the at-rest form of raw token values. Stores never see the
// raw value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
