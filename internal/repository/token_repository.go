package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenRepository 维护已注销 token 的黑名单。
type TokenRepository interface {
	Blacklist(ctx context.Context, token string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

type redisTokenRepository struct {
	redisClient *redis.Client
}

// NewTokenRepository 创建一个新的 TokenRepository 实例。
func NewTokenRepository(redisClient *redis.Client) TokenRepository {
	return &redisTokenRepository{redisClient: redisClient}
}

func blacklistKey(token string) string {
	return "blacklist:" + token
}

// Blacklist 记录 token 直到它自然过期。
func (r *redisTokenRepository) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.redisClient.Set(ctx, blacklistKey(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (r *redisTokenRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}
