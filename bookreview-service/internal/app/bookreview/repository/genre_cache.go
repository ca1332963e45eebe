package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookreview/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	genresCacheKey    = "genres:all"
	genresCachePrefix = "genres"
)

type redisGenreCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGenreCache(client *redis.Client, ttl time.Duration) GenreCache {
	return &redisGenreCache{client: client, ttl: ttl}
}

func (c *redisGenreCache) GetGenres(ctx context.Context) ([]string, error) {
	timer := metrics.NewRedisTimer(metricsService, metrics.RedisOpGet)
	data, err := c.client.Get(ctx, genresCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		timer.Done(nil)
		metrics.RecordCache(metricsService, genresCachePrefix, false)
		return nil, nil
	}
	timer.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to get genres from cache: %w", err)
	}

	var genres []string
	if err := json.Unmarshal(data, &genres); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genres: %w", err)
	}

	metrics.RecordCache(metricsService, genresCachePrefix, true)
	return genres, nil
}

func (c *redisGenreCache) SetGenres(ctx context.Context, genres []string) error {
	data, err := json.Marshal(genres)
	if err != nil {
		return fmt.Errorf("failed to marshal genres: %w", err)
	}

	timer := metrics.NewRedisTimer(metricsService, metrics.RedisOpSet)
	err = c.client.Set(ctx, genresCacheKey, data, c.ttl).Err()
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to set genres in cache: %w", err)
	}
	return nil
}

func (c *redisGenreCache) InvalidateGenres(ctx context.Context) error {
	timer := metrics.NewRedisTimer(metricsService, metrics.RedisOpDel)
	err := c.client.Del(ctx, genresCacheKey).Err()
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to delete genres from cache: %w", err)
	}
	return nil
}
