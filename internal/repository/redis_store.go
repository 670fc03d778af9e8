package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

type redisStore struct {
	redisClient *redis.Client
}

// NewRedisStore 创建一个基于 Redis 的 Store。值不设置过期时间。
func NewRedisStore(redisClient *redis.Client) Store {
	return &redisStore{redisClient: redisClient}
}

func (r *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, true, nil
}

func (r *redisStore) Set(ctx context.Context, key, value string) error {
	if err := r.redisClient.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (r *redisStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to remove keys: %w", err)
	}
	return nil
}
