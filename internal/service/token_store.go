package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"video-lifecycle-service/internal/entity"
)

// TokenStore holds upload tokens. Redeem is destructive: a token can be
// read out exactly once.
type TokenStore interface {
	Save(ctx context.Context, tok entity.UploadToken) error
	Redeem(ctx context.Context, token string) (*entity.UploadToken, error)
}

const tokenKeyPrefix = "upload:token:"

// RedisTokenStore keeps tokens in redis with a TTL matching their
// expiry, so unredeemed tokens vanish on their own.
type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Save(ctx context.Context, tok entity.UploadToken) error {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save upload token: already expired")
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("save upload token: %w", err)
	}

	if err := s.rdb.Set(ctx, tokenKeyPrefix+tok.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save upload token: %w", err)
	}
	return nil
}

// Redeem returns (nil, nil) for an unknown or expired token.
func (s *RedisTokenStore) Redeem(ctx context.Context, token string) (*entity.UploadToken, error) {
	payload, err := s.rdb.GetDel(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redeem upload token: %w", err)
	}

	var tok entity.UploadToken
	if err := json.Unmarshal([]byte(payload), &tok); err != nil {
		return nil, fmt.Errorf("redeem upload token: %w", err)
	}
	return &tok, nil
}
