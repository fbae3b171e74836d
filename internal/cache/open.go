package cache

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/jobhunter/internal/config"
)

// Open returns a Redis cache when REDIS_URL is set and an in-process cache
// otherwise. Redis must answer a ping before Open returns.
func Open(ctx context.Context, cfg config.RedisConfig) (Cache, error) {
	if cfg.URL == "" {
		return NewMemoryCache(), nil
	}
	rc, err := NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}
