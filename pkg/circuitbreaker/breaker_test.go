package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestCircuitBreaker(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New("chat", Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		now:              clock.now,
	})

	boom := errors.New("webhook down")
	fail := func(ctx context.Context) error { return boom }
	ok := func(ctx context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := New("email", Config{FailureThreshold: 1, OpenTimeout: time.Second, now: clock.now})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("x") })
	assert.Equal(t, StateOpen, cb.State())

	clock.t = clock.t.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}
