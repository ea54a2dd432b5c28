package magiclink

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

const (
	linkKeyPrefix  = "ml:token:"
	emailKeyPrefix = "ml:email:"
)

// RedisMagicLinkStore is the Redis-backed magic link store for distributed
// deployments. Single-use consumption leans on GETDEL: the record is removed
// atomically on first consumption, so a replayed token is simply not found.
// Expiry is enforced by key TTL.
type RedisMagicLinkStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisMagicLinkStore {
	return &RedisMagicLinkStore{client: client}
}

func (s *RedisMagicLinkStore) Create(ctx context.Context, link *models.MagicLinkToken) error {
	payload, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("marshal magic link: %w", err)
	}

	ttl := time.Until(link.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("magic link already expired: %w", sentinel.ErrExpired)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, linkKeyPrefix+link.TokenHash, payload, ttl)
	pipe.SAdd(ctx, emailKeyPrefix+link.Email, link.TokenHash)
	pipe.Expire(ctx, emailKeyPrefix+link.Email, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}
	return nil
}

func (s *RedisMagicLinkStore) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.MagicLinkToken, error) {
	payload, err := s.client.GetDel(ctx, linkKeyPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("magic link not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("consume magic link: %w", err)
	}

	var link models.MagicLinkToken
	if err := json.Unmarshal(payload, &link); err != nil {
		return nil, fmt.Errorf("unmarshal magic link: %w", err)
	}
	if err := link.ValidateForConsume(now); err != nil {
		return nil, translateLinkError(err)
	}

	link.Used = true
	_ = s.client.SRem(ctx, emailKeyPrefix+link.Email, tokenHash).Err()
	return &link, nil
}

func (s *RedisMagicLinkStore) DeleteByEmail(ctx context.Context, email string) error {
	hashes, err := s.client.SMembers(ctx, emailKeyPrefix+email).Result()
	if err != nil {
		return fmt.Errorf("list magic links for email: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, linkKeyPrefix+h)
	}
	keys = append(keys, emailKeyPrefix+email)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete magic links for email: %w", err)
	}
	return nil
}
