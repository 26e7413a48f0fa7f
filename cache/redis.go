package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Once reports whether this is the first time key has been seen within the
// TTL window. Implements notifications.Deduper.
func (c *RedisCache) Once(ctx context.Context, key string, ttlSeconds int) (bool, error) {
	return c.client.SetNX(ctx, key, 1, time.Duration(ttlSeconds)*time.Second).Result()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
