package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "tld-quote:dataset:"
	// staleRetention keeps expired bodies around for conditional revalidation and as a
	// fallback when the upstream is down.
	staleRetention = 24 * time.Hour
)

// Entry is a downloaded dataset body with the validators its server sent.
type Entry struct {
	Body         []byte
	ETag         string
	LastModified string
	FetchedAt    time.Time
}

// Cache keeps dataset bodies in Redis hashes keyed by source URL. Entries younger
// than the TTL are fresh; older ones are kept for staleRetention so they can be
// revalidated. A nil cache or client stores nothing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds a dataset cache. A non-positive ttl means entries never go stale.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: max(ttl, 0)}
}

// Fresh reports whether e can be served at now without asking the upstream.
func (c *Cache) Fresh(e Entry, now time.Time) bool {
	if c == nil {
		return false
	}
	return c.ttl == 0 || now.Sub(e.FetchedAt) < c.ttl
}

// Get loads the entry for source.
func (c *Cache) Get(ctx context.Context, source string) (Entry, bool, error) {
	if c == nil || c.client == nil {
		return Entry{}, false, nil
	}
	fields, err := c.client.HGetAll(ctx, datasetCacheKey(source)).Result()
	if err != nil || len(fields) == 0 {
		return Entry{}, false, err
	}
	fetchedAt, err := strconv.ParseInt(fields["fetched_at"], 10, 64)
	if err != nil {
		// written by something else; treat as a miss so it gets replaced
		return Entry{}, false, nil
	}
	return Entry{
		Body:         []byte(fields["body"]),
		ETag:         fields["etag"],
		LastModified: fields["last_modified"],
		FetchedAt:    time.UnixMilli(fetchedAt).UTC(),
	}, true, nil
}

// Put replaces the entry for source.
func (c *Cache) Put(ctx context.Context, source string, e Entry) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := datasetCacheKey(source)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"body", e.Body,
			"etag", e.ETag,
			"last_modified", e.LastModified,
			"fetched_at", e.FetchedAt.UnixMilli(),
		)
		c.expire(ctx, pipe, key)
		return nil
	})
	return err
}

// Touch marks an entry as revalidated at fetchedAt without rewriting its body.
func (c *Cache) Touch(ctx context.Context, source string, fetchedAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := datasetCacheKey(source)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "fetched_at", fetchedAt.UnixMilli())
		c.expire(ctx, pipe, key)
		return nil
	})
	return err
}

func (c *Cache) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl+staleRetention)
	}
}

// sourceDigest hashes the source so signed URLs do not leak into key listings.
func sourceDigest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func datasetCacheKey(source string) string {
	return cacheKeyPrefix + sourceDigest(source)
}
