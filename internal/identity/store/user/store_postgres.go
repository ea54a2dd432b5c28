package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// PostgresUserStore is the pgx-backed user store for deployments that need
// identities to survive a restart.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id               UUID PRIMARY KEY,
    role             TEXT NOT NULL,
    linked_providers TEXT[] NOT NULL DEFAULT '{}',
    primary_email    TEXT,
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_primary_email_idx
    ON users (LOWER(primary_email)) WHERE primary_email IS NOT NULL;
`

// EnsureSchema creates the users table if it does not exist.
func (s *PostgresUserStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Save(ctx context.Context, user *models.User) error {
	providers := make([]string, len(user.LinkedProviders))
	for i, p := range user.LinkedProviders {
		providers[i] = string(p)
	}

	var email any
	if user.PrimaryEmail != "" {
		email = strings.ToLower(user.PrimaryEmail)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, role, linked_providers, primary_email, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			linked_providers = EXCLUDED.linked_providers,
			primary_email = EXCLUDED.primary_email`,
		user.ID, string(user.Role), providers, email, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, role, linked_providers, primary_email, created_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, role, linked_providers, primary_email, created_at
		FROM users WHERE LOWER(primary_email) = LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u         models.User
		role      string
		providers []string
		email     *string
	)
	if err := row.Scan(&u.ID, &role, &providers, &email, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = models.Role(role)
	u.LinkedProviders = make([]models.Provider, len(providers))
	for i, p := range providers {
		u.LinkedProviders[i] = models.Provider(p)
	}
	if email != nil {
		u.PrimaryEmail = *email
	}
	return &u, nil
}
