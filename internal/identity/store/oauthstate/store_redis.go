package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

const stateKeyPrefix = "oauth:state:"

// RedisOAuthStateStore is the Redis-backed state store. GETDEL gives the
// atomic fetch-and-delete the one-time-use invariant requires; key TTL
// enforces expiry.
type RedisOAuthStateStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

func (s *RedisOAuthStateStore) Create(ctx context.Context, state *models.OAuthState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}
	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("oauth state already expired: %w", sentinel.ErrExpired)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+state.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

func (s *RedisOAuthStateStore) Consume(ctx context.Context, state string, _ time.Time) (*models.OAuthState, error) {
	payload, err := s.client.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("oauth state not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	var rec models.OAuthState
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal oauth state: %w", err)
	}
	return &rec, nil
}
