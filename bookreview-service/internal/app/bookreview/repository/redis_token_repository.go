package repository

import (
	"context"
	"fmt"
	"time"

	"bookreview/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

type redisTokenRepository struct {
	client *redis.Client
}

// NewRedisTokenRepository создает черный список токенов после logout
func NewRedisTokenRepository(client *redis.Client) TokenRepository {
	return &redisTokenRepository{client: client}
}

// AddToBlacklist хранит токен до момента его истечения
func (r *redisTokenRepository) AddToBlacklist(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	timer := metrics.NewRedisTimer(metricsService, metrics.RedisOpSet)
	err := r.client.Set(ctx, blacklistKey(token), "1", ttl).Err()
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

func (r *redisTokenRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	timer := metrics.NewRedisTimer(metricsService, metrics.RedisOpExists)
	exists, err := r.client.Exists(ctx, blacklistKey(token)).Result()
	timer.Done(err)
	if err != nil {
		return false, fmt.Errorf("failed to check if token is blacklisted: %w", err)
	}
	return exists > 0, nil
}

func blacklistKey(token string) string {
	return "blacklist:" + token
}
