package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"beacon/internal/clock"
	"beacon/internal/identity/handler"
	"beacon/internal/identity/mailer"
	"beacon/internal/identity/models"
	"beacon/internal/identity/provider"
	"beacon/internal/identity/service"
	magiclinkstore "beacon/internal/identity/store/magiclink"
	oauthstatestore "beacon/internal/identity/store/oauthstate"
	refreshtokenstore "beacon/internal/identity/store/refreshtoken"
	sessionstore "beacon/internal/identity/store/session"
	userstore "beacon/internal/identity/store/user"
	"beacon/internal/identity/token"
	"beacon/internal/platform/config"
	"beacon/internal/platform/httpserver"
	"beacon/internal/platform/logger"
	"beacon/internal/platform/metrics"
	platformredis "beacon/internal/platform/redis"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)
	m := metrics.New(nil)

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	tokens := token.NewManager(cfg.JWTSigningKey, cfg.AccessTokenTTL)

	// Fake providers back the dev server; swap in real clients per
	// provider in deployment.
	providers := provider.Registry{
		models.ProviderGoogle: provider.NewFake(models.ProviderGoogle, "http://localhost:9801"),
		models.ProviderGitHub: provider.NewFake(models.ProviderGitHub, "http://localhost:9802"),
	}

	svc := service.New(
		service.Config{
			SessionTTL:           cfg.SessionTTL,
			RefreshTokenTTL:      cfg.RefreshTokenTTL,
			MagicLinkTTL:         cfg.MagicLinkTTL,
			OAuthStateTTL:        cfg.OAuthStateTTL,
			MaxSessionsPerUser:   cfg.MaxSessionsPerUser,
			MagicLinkRatePerHour: cfg.MagicLinkRatePerHour,
			VerifyBaseURL:        "http://localhost" + cfg.Addr,
		},
		stores,
		tokens,
		providers,
		&mailer.Log{Logger: log},
		log,
		m,
		clock.Real{},
	)

	h := handler.New(svc, tokens, cfg.RefreshTokenTTL, log, m)
	h.EnableDevRoutes = os.Getenv("BEACON_DEV_ROUTES") == "true"

	srv := httpserver.New(cfg.Addr, h.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting beacon identity service", "addr", cfg.Addr)
	if err := httpserver.Run(ctx, srv, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// buildStores selects store implementations from configuration: redis for the
// single-use records and postgres for users when configured, memory otherwise.
func buildStores(cfg config.Server, log *slog.Logger) (service.Stores, func(), error) {
	stores := service.Stores{
		Users:         userstore.New(),
		MagicLinks:    magiclinkstore.New(),
		OAuthStates:   oauthstatestore.New(),
		RefreshTokens: refreshtokenstore.New(),
		Sessions:      sessionstore.New(),
	}
	cleanup := func() {}

	if cfg.RedisURL != "" {
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			return stores, cleanup, err
		}
		stores.MagicLinks = magiclinkstore.NewRedis(client.Client)
		stores.OAuthStates = oauthstatestore.NewRedis(client.Client)
		prev := cleanup
		cleanup = func() { prev(); _ = client.Close() }
		log.Info("using redis for single-use token stores")
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return stores, cleanup, err
		}
		pg := userstore.NewPostgres(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			pool.Close()
			return stores, cleanup, err
		}
		stores.Users = pg
		prev := cleanup
		cleanup = func() { prev(); pool.Close() }
		log.Info("using postgres for the user store")
	}

	return stores, cleanup, nil
}
