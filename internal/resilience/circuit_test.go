package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(s BreakerSettings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(s)
	b.now = clock.now
	b.rollInterval(clock.t)
	return b, clock
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	var changes []string
	b, clock := newTestBreaker(BreakerSettings{
		Name:         "rates",
		MinRequests:  4,
		FailureRatio: 0.5,
		OpenFor:      10 * time.Second,
		OnStateChange: func(_ string, from, to State) {
			changes = append(changes, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	b.Report(ctx, true)
	b.Report(ctx, false)
	b.Report(ctx, true)
	require.Equal(t, Closed, b.State())
	require.Equal(t, Counts{Requests: 3, Failures: 1}, b.Counts())
	b.Report(ctx, false)
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow(ctx))

	clock.t = clock.t.Add(10 * time.Second)
	require.True(t, b.Allow(ctx))
	require.Equal(t, HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe while half-open")
	b.Report(ctx, false)
	require.Equal(t, Open, b.State())

	clock.t = clock.t.Add(11 * time.Second)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, true)
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow(ctx))

	require.Equal(t, []string{
		"closed>open", "open>half_open", "half_open>open",
		"open>half_open", "half_open>closed",
	}, changes)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{MinRequests: 3, FailureRatio: 0.6, Interval: time.Minute})
	ctx := context.Background()

	b.Report(ctx, false)
	b.Report(ctx, false)
	require.Equal(t, uint32(2), b.Counts().ConsecutiveFailures)

	clock.t = clock.t.Add(time.Minute)
	require.True(t, b.Allow(ctx))
	require.Equal(t, Counts{}, b.Counts())

	b.Report(ctx, false)
	b.Report(ctx, true)
	b.Report(ctx, true)
	require.Equal(t, Closed, b.State())
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerSettings{FailureRatio: 3})
	require.Equal(t, "default", b.Name())
	require.Equal(t, uint32(1), b.settings.MinRequests)
	require.Equal(t, 0.5, b.settings.FailureRatio)
	require.Equal(t, 30*time.Second, b.settings.OpenFor)
}

func TestNilBreakerAllows(t *testing.T) {
	var b *Breaker
	require.True(t, b.Allow(context.Background()))
	b.Report(context.Background(), false)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "half_open", HalfOpen.String())
	require.Equal(t, "unknown", State(9).String())
}
