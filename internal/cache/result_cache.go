// Package cache keeps finished run results in Redis, keyed by the
// resolved run parameters.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	resultKeyPrefix     = "mixopt:result"
	resultScanBatchSize = 100
)

// ResultCache stores run results. A miss is (nil, false, nil).
type ResultCache interface {
	Get(ctx context.Context, key string) (*domain.RunResult, bool, error)
	Set(ctx context.Context, key string, res *domain.RunResult) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopResultCache struct{}

// NewResultCache returns a Redis-backed cache when caching is enabled and
// a no-op cache otherwise.
func NewResultCache(cfg config.CacheConfig) (ResultCache, error) {
	if !cfg.Enabled {
		return &noopResultCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return &redisResultCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func NewNoopResultCache() ResultCache {
	return &noopResultCache{}
}

func (c *redisResultCache) Get(ctx context.Context, key string) (*domain.RunResult, bool, error) {
	payload, err := c.client.Get(ctx, buildResultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var res domain.RunResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, fmt.Errorf("decode run result cache: %w", err)
	}

	return &res, true, nil
}

func (c *redisResultCache) Set(ctx context.Context, key string, res *domain.RunResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode run result cache: %w", err)
	}

	if err := c.client.Set(ctx, buildResultKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisResultCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, buildResultKey(key)).Err()
}

func (c *redisResultCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, resultKeyPrefix, resultScanBatchSize)
}

func (n *noopResultCache) Get(ctx context.Context, key string) (*domain.RunResult, bool, error) {
	return nil, false, nil
}

func (n *noopResultCache) Set(ctx context.Context, key string, res *domain.RunResult) error {
	return nil
}

func (n *noopResultCache) Invalidate(ctx context.Context, key string) error {
	return nil
}

func (n *noopResultCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildResultKey(key string) string {
	return fmt.Sprintf("%s:%s", resultKeyPrefix, keyHash(key))
}

func keyHash(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "default"
	}
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
