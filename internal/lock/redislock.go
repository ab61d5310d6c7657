package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConfigured is returned when the locker has no Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	// ErrLockHeld is returned when Acquire gives up on a key someone else holds.
	ErrLockHeld = errors.New("lock: key held elsewhere")
	// ErrLockLost means the lease expired, or was taken over, before it was released.
	ErrLockLost = errors.New("lock: lease lost")
)

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 50 * time.Millisecond
	maxBackoff     = time.Second
)

// compareAndDelete only removes KEYS[1] while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out Redis leases so that only one process works on a key at a time.
type Locker struct {
	Client       *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

// Lease is a held lock. It expires on its own after the TTL it was acquired with.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Key is the full Redis key of the lease.
func (l *Lease) Key() string { return l.key }

// Release gives the lease back. ErrLockLost is returned when the key expired or
// now belongs to someone else.
func (l *Lease) Release(ctx context.Context) error {
	n, err := compareAndDelete.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// TryAcquire makes a single attempt. A nil lease with a nil error means the key is held.
func (l Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.Client == nil {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	lease := &Lease{client: l.Client, key: l.Prefix + key, token: uuid.NewString()}
	ok, err := l.Client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil || !ok {
		return nil, err
	}
	return lease, nil
}

// Acquire polls until the lease is obtained or ctx is done. Waits grow exponentially
// from RetryBackoff up to one second.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.RetryBackoff
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaultBackoff
	}
	policy.MaxInterval = maxBackoff
	policy.RandomizationFactor = 0.2
	return backoff.Retry(ctx, func() (*Lease, error) {
		lease, err := l.TryAcquire(ctx, key, ttl)
		switch {
		case err != nil:
			return nil, backoff.Permanent(err)
		case lease == nil:
			return nil, ErrLockHeld
		}
		return lease, nil
	}, backoff.WithBackOff(policy))
}

// WithLock runs fn under the lease for key. An error from fn wins over a failed release.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (err error) {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); err == nil {
			err = releaseErr
		}
	}()
	return fn(ctx)
}
