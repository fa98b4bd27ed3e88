package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCache struct{}

var errDown = errors.New("connection refused")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}
func (brokenCache) Ping(context.Context) error { return errDown }
func (brokenCache) Close() error { return nil }

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) ObserveCache(key, result string) {
	r.calls = append(r.calls, key+"="+result)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	n, err := m.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = m.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss, "entry expires at its ttl")

	now = now.Add(time.Hour)
	n, err = m.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expired counter starts over")
}

func TestAdvisory(t *testing.T) {
	ctx := context.Background()

	t.Run("hit and miss are observed", func(t *testing.T) {
		obs := &recordingObserver{}
		a := NewAdvisory(NewMemory(), time.Second, nil, obs)

		_, ok := a.Get(ctx, "poll:analytics")
		assert.False(t, ok)

		assert.True(t, a.SetJSON(ctx, "poll:analytics", map[string]int{"totalResponses": 3}, time.Minute))
		data, ok := a.Get(ctx, "poll:analytics")
		assert.True(t, ok)
		assert.JSONEq(t, `{"totalResponses":3}`, string(data))

		n, ok := a.Incr(ctx, "poll:daily:2026-03-01", time.Hour)
		assert.True(t, ok)
		assert.Equal(t, int64(1), n)

		assert.Equal(t, []string{"poll:analytics=miss", "poll:analytics=hit"}, obs.calls)
	})

	t.Run("failures degrade to false", func(t *testing.T) {
		obs := &recordingObserver{}
		a := NewAdvisory(brokenCache{}, time.Second, nil, obs)

		_, ok := a.Get(ctx, "poll:daily:2026-03-01")
		assert.False(t, ok)
		assert.False(t, a.Set(ctx, "poll:stats", []byte("{}"), time.Minute))
		_, ok = a.Incr(ctx, "poll:daily:2026-03-01", time.Hour)
		assert.False(t, ok)
		assert.Error(t, a.Ping(ctx))

		assert.Equal(t, []string{"poll:daily=error"}, obs.calls)
	})

	t.Run("unencodable value is not written", func(t *testing.T) {
		a := NewAdvisory(NewMemory(), time.Second, nil, nil)
		assert.False(t, a.SetJSON(ctx, "bad", make(chan int), time.Minute))
	})
}
