package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newLimiter(t *testing.T) (Limiter, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := &clock{now: time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)}
	return Limiter{Client: client, Prefix: "test:", Now: c.Now}, c, mr
}

func TestLimiterSlidingWindow(t *testing.T) {
	limiter, c, _ := newLimiter(t)
	ctx := context.Background()
	window := 10 * time.Second
	start := c.now

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "key", window, 2)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 1-i, d.Remaining)
		c.now = c.now.Add(4 * time.Second)
	}

	d, err := limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.True(t, d.ResetAt.Equal(start.Add(window)), "reset follows the oldest event, got %v", d.ResetAt)

	// the first event leaves the window, the rejected one was never recorded
	c.now = start.Add(window + time.Millisecond)
	d, err = limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _, mr := newLimiter(t)
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		d, err := limiter.Allow(ctx, key, time.Minute, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	require.True(t, mr.Exists("test:a"))
	require.Positive(t, mr.TTL("test:a"))
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := Limiter{Now: func() time.Time { return fixed }}.Allow(context.Background(), "k", time.Minute, 5)
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: true, Limit: 5, Remaining: 5, ResetAt: fixed.Add(time.Minute)}, d)
}
