// Package cache holds short-lived auth state: session tokens and account
// ban flags. Redis is used when configured, otherwise an in-process map.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/relationd/cache/local"
	cacheredis "github.com/kasuganosora/relationd/cache/redis"
)

// Cache is the key/value surface used for sessions and account flags.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces every Redis key, e.g. "relationd:".
	KeyPrefix       string
	PoolSize        int
	DialTimeout     time.Duration
	LocalGCInterval time.Duration
}

// IsNotFound reports whether err is a missing-key error from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(cacheredis.Config{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			KeyPrefix:   cfg.KeyPrefix,
			PoolSize:    cfg.PoolSize,
			DialTimeout: cfg.DialTimeout,
		})
	}
	return local.NewCache(local.Config{
		GCInterval: cfg.LocalGCInterval,
	})
}
