// Package cache holds the aggregate cache. It is advisory: nothing read from
// it is authoritative and none of its failures may fail a request. Callers go
// through Advisory, which is the one place cache errors are swallowed.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr adds one to key and (re)sets its expiry to ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
