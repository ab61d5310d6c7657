package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tld-quote/internal/resilience"
)

var (
	// ErrEmptySource is returned when a required dataset source is blank.
	ErrEmptySource = errors.New("catalog: empty dataset source")
	// ErrDatasetTooLarge is returned when a remote body exceeds the fetcher size limit.
	ErrDatasetTooLarge = errors.New("catalog: dataset exceeds size limit")
)

const maxDatasetBytes = 16 << 20

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Fetcher reads dataset bytes from local files or HTTP(S) URLs. Remote bodies are
// cached in Redis when a cache is configured; stale entries are revalidated with
// conditional requests, and a Lock keeps concurrently booting replicas from
// downloading the same source twice.
type Fetcher struct {
	HTTP     resilience.HTTPClient
	Cache    *Cache
	Lock     Locker
	LockTTL  time.Duration
	// MaxBytes caps remote bodies; zero means 16 MiB.
	MaxBytes int64
	Now      func() time.Time
}

// Fetch returns the bytes behind source. Sources may be file:// URLs, bare paths or
// http(s) URLs.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrEmptySource
	}
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare paths, including windows drive letters
		return readFile(source)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = u.Host + path
		}
		return readFile(path)
	case "http", "https":
		return f.fetchRemote(ctx, source)
	default:
		return nil, fmt.Errorf("catalog: unsupported source scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchRemote(ctx context.Context, source string) ([]byte, error) {
	entry, hit := f.lookup(ctx, source)
	if hit && f.Cache.Fresh(entry, f.now()) {
		return entry.Body, nil
	}
	if f.Lock == nil {
		return f.refresh(ctx, source, entry, hit)
	}
	ttl := f.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	var body []byte
	err := f.Lock.WithLock(ctx, "dataset:"+sourceDigest(source), ttl, func(ctx context.Context) error {
		// another replica may have refreshed the entry while we waited
		entry, hit = f.lookup(ctx, source)
		if hit && f.Cache.Fresh(entry, f.now()) {
			body = entry.Body
			return nil
		}
		var err error
		body, err = f.refresh(ctx, source, entry, hit)
		return err
	})
	return body, err
}

func (f *Fetcher) lookup(ctx context.Context, source string) (Entry, bool) {
	entry, ok, err := f.Cache.Get(ctx, source)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("source", source).Msg("dataset_cache_read_failed")
		return Entry{}, false
	}
	return entry, ok
}

// refresh downloads source, revalidating stale when there is one. A stale body is
// served when the upstream cannot be reached.
func (f *Fetcher) refresh(ctx context.Context, source string, stale Entry, hasStale bool) ([]byte, error) {
	body, err := f.download(ctx, source, stale, hasStale)
	if err != nil && hasStale && ctx.Err() == nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("source", source).
			Time("fetched_at", stale.FetchedAt).
			Msg("dataset_stale_served")
		return stale.Body, nil
	}
	return body, err
}

func (f *Fetcher) download(ctx context.Context, source string, stale Entry, hasStale bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	if hasStale {
		if stale.ETag != "" {
			req.Header.Set("If-None-Match", stale.ETag)
		}
		if stale.LastModified != "" {
			req.Header.Set("If-Modified-Since", stale.LastModified)
		}
	}
	resp, err := f.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	log := zerolog.Ctx(ctx)
	now := f.now().UTC()
	if resp.StatusCode == http.StatusNotModified && hasStale {
		log.Debug().Str("source", source).Msg("dataset_revalidated")
		if err := f.Cache.Touch(ctx, source, now); err != nil {
			log.Warn().Err(err).Str("source", source).Msg("dataset_cache_write_failed")
		}
		return stale.Body, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog: fetch %s: unexpected status %s", source, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.limit()+1))
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", source, err)
	}
	if int64(len(body)) > f.limit() {
		return nil, fmt.Errorf("catalog: fetch %s: %w (%d bytes)", source, ErrDatasetTooLarge, f.limit())
	}
	fresh := Entry{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    now,
	}
	if err := f.Cache.Put(ctx, source, fresh); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("dataset_cache_write_failed")
	}
	return body, nil
}

func (f *Fetcher) limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return maxDatasetBytes
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return data, nil
}
