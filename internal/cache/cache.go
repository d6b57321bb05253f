package cache

import (
	"context"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyTTL = 24 * time.Hour

// Cache wraps Redis for cross-request bookkeeping. Currently it guards the
// payment webhook against replayed gateway deliveries.
type Cache struct {
	client *redis.Client
}

// New connects to Redis, or returns nil when the cache is disabled by
// config. Callers treat a nil *Cache as "no deduplication".
func New(cfg *configs.Config) *Cache {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Error("Redis unreachable, webhook deduplication disabled: ", err)
		return nil
	}
	return &Cache{client: client}
}

// SetIdempotency records a key once; returns false when the key was already
// set, meaning the caller is looking at a duplicate.
func (c *Cache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
