package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures configuration for the identity service.
type Server struct {
	Addr          string
	JWTSigningKey string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	MagicLinkTTL    time.Duration
	OAuthStateTTL   time.Duration

	// MaxSessionsPerUser caps concurrent sessions; the oldest is evicted
	// when the cap is exceeded.
	MaxSessionsPerUser int

	// MagicLinkRatePerHour bounds link requests per email address.
	MagicLinkRatePerHour int

	RedisURL    string
	PostgresDSN string
}

// Client captures configuration for the session controller.
type Client struct {
	BaseURL string

	// RefreshBuffer is how long before session expiry the proactive
	// refresh fires.
	RefreshBuffer time.Duration
	// LivenessInterval is how often the controller checks for an already
	// passed expiry.
	LivenessInterval time.Duration
	// RehydrateTimeout bounds the wait for a persisted snapshot before the
	// controller proceeds unauthenticated.
	RehydrateTimeout time.Duration

	// SnapshotPath is where the non-sensitive session subset is persisted.
	// Empty disables persistence.
	SnapshotPath string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("BEACON_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("BEACON_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:                 addr,
		JWTSigningKey:        jwtSigningKey,
		AccessTokenTTL:       envDuration("BEACON_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      envDuration("BEACON_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		SessionTTL:           envDuration("BEACON_SESSION_TTL", 24*time.Hour),
		MagicLinkTTL:         envDuration("BEACON_MAGIC_LINK_TTL", time.Hour),
		OAuthStateTTL:        envDuration("BEACON_OAUTH_STATE_TTL", 5*time.Minute),
		MaxSessionsPerUser:   envInt("BEACON_MAX_SESSIONS_PER_USER", 5),
		MagicLinkRatePerHour: envInt("BEACON_MAGIC_LINK_RATE_PER_HOUR", 5),
		RedisURL:             os.Getenv("BEACON_REDIS_URL"),
		PostgresDSN:          os.Getenv("BEACON_POSTGRES_DSN"),
	}
}

// ClientFromEnv builds a Client config from environment variables.
func ClientFromEnv() Client {
	base := os.Getenv("BEACON_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return Client{
		BaseURL:          base,
		RefreshBuffer:    envDuration("BEACON_REFRESH_BUFFER", 5*time.Minute),
		LivenessInterval: envDuration("BEACON_LIVENESS_INTERVAL", time.Minute),
		RehydrateTimeout: envDuration("BEACON_REHYDRATE_TIMEOUT", 3*time.Second),
		SnapshotPath:     os.Getenv("BEACON_SNAPSHOT_PATH"),
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
