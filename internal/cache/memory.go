package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 5 * time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache used when no Redis URL is configured and in
// tests. go-cache evicts expired items in the background; reads also check
// expiry against the Memory clock so tests can move time forward.
type Memory struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		items: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.store(key, stored, ttl)
	return nil
}

// Incr resets the expiry on every call, so go-cache's IncrementInt64 (which
// keeps the old expiry) does not fit.
func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if e, ok := m.lookup(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	m.store(key, []byte(strconv.FormatInt(n, 10)), ttl)
	return n, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}

// lookup drops the entry if it has expired. Caller holds mu.
func (m *Memory) lookup(key string) (entry, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return entry{}, false
	}
	e := v.(entry)
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.items.Delete(key)
		return entry{}, false
	}
	return e, true
}

// store writes through to go-cache with the same ttl for background eviction.
// Caller holds mu.
func (m *Memory) store(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	expiration := gocache.NoExpiration
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
		expiration = ttl
	}
	m.items.Set(key, e, expiration)
}
