package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Observer receives one call per Get with result "hit", "miss" or "error".
type Observer interface {
	ObserveCache(key, result string)
}

// Advisory wraps a Cache so that every failure is logged and reported as a
// plain false instead of an error. Each call gets its own deadline.
type Advisory struct {
	cache    Cache
	timeout  time.Duration
	log      *zap.Logger
	observer Observer
}

func NewAdvisory(c Cache, timeout time.Duration, log *zap.Logger, observer Observer) *Advisory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Advisory{cache: c, timeout: timeout, log: log, observer: observer}
}

// Get returns the cached bytes and true on a hit. Misses and errors both
// return false; errors are logged.
func (a *Advisory) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	data, err := a.cache.Get(ctx, key)
	switch {
	case err == nil:
		a.observe(key, "hit")
		return data, true
	case errors.Is(err, ErrMiss):
		a.observe(key, "miss")
	default:
		a.observe(key, "error")
		a.log.Warn("Cache read failed, continuing without cache", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

func (a *Advisory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.cache.Set(ctx, key, value, ttl); err != nil {
		a.log.Warn("Cache write failed, skipping", zap.String("key", key), zap.Error(err))
		return false
	}
	a.log.Debug("Cache entry written", zap.String("key", key), zap.Duration("ttl", ttl))
	return true
}

func (a *Advisory) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(v)
	if err != nil {
		a.log.Error("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return a.Set(ctx, key, data, ttl)
}

func (a *Advisory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	n, err := a.cache.Incr(ctx, key, ttl)
	if err != nil {
		a.log.Warn("Cache increment failed, skipping", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return n, true
}

// Ping reports reachability; readiness uses it and treats failure as
// non-fatal.
func (a *Advisory) Ping(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	return a.cache.Ping(ctx)
}

func (a *Advisory) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Advisory) observe(key, result string) {
	if a.observer != nil {
		a.observer.ObserveCache(keyFamily(key), result)
	}
}

// keyFamily keeps the first two segments of a key so dated keys such as
// poll:daily:2026-01-02 share one label value.
func keyFamily(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return key
	}
	return parts[0] + ":" + parts[1]
}
