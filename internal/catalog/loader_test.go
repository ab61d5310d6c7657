package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tld-quote/internal/lock"
	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/resilience"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFetcherSources(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prices.csv", "extension,price\ncom,9\n")
	f := &Fetcher{}
	ctx := context.Background()

	data, err := f.Fetch(ctx, path)
	require.NoError(t, err)
	require.Contains(t, string(data), "com,9")

	data, err = f.Fetch(ctx, "file://"+path)
	require.NoError(t, err)
	require.Contains(t, string(data), "com,9")

	_, err = f.Fetch(ctx, "  ")
	require.ErrorIs(t, err, ErrEmptySource)

	_, err = f.Fetch(ctx, "ftp://example.com/prices.csv")
	require.Error(t, err)

	_, err = f.Fetch(ctx, filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}

func TestFetcherCachesRemoteBodies(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"currencyCode":"EUR","exchangeRate":0.9}]`))
	}))
	defer srv.Close()

	cache, _ := newTestCache(t, time.Hour)
	f := &Fetcher{HTTP: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}, Cache: cache}
	for i := 0; i < 3; i++ {
		data, err := f.Fetch(context.Background(), srv.URL+"/rates.json")
		require.NoError(t, err)
		require.Contains(t, string(data), "EUR")
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestFetcherRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorContains(t, err, "unexpected status")
}

func TestLoaderBuildsConfig(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ng": {"NGN": 9000}}`))
	}))
	defer srv.Close()

	src := Sources{
		CreatePrices:  writeFile(t, dir, "create.csv", "tld,currency,price\ncom,USD,10\nng,NGN,5000\nng,USD,4\n"),
		RenewPrices:   srv.URL + "/renew.json",
		ExchangeRates: writeFile(t, dir, "rates.json", `[{"currencyCode":"NGN","currencySymbol":"₦","exchangeRate":1500}]`),
		VATRates:      writeFile(t, dir, "vat.json", `{"NG": 0.075, "US": 0}`),
		Discounts:     writeFile(t, dir, "discounts.json", `{"save10": {"rate": 0.1, "extensions": ["com"], "startAt": "2026-01-01", "endAt": "2027-01-01"}}`),
	}
	loader := &Loader{Fetcher: &Fetcher{HTTP: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}}
	cfg, err := loader.Load(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, []string{"com", "ng"}, cfg.Prices.Create.Extensions())
	require.Equal(t, []string{"ng"}, cfg.Prices.Renew.Extensions())
	require.Nil(t, cfg.Prices.Restore)
	require.Len(t, cfg.ExchangeRates, 1)
	require.Equal(t, 1, cfg.Discounts.Len())

	cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	calc, err := pricing.New(cfg)
	require.NoError(t, err)

	q, err := calc.Quote(context.Background(), "ng", "NGN", pricing.Options{Transaction: pricing.TransactionRenew})
	require.NoError(t, err)
	require.Equal(t, 9000.0, q.BasePrice)
	require.Equal(t, 0.075, q.TaxRate)
	require.Equal(t, 675.0, q.Tax)

	q, err = calc.Quote(context.Background(), "com", "USD", pricing.Options{DiscountCodes: []string{"SAVE10"}})
	require.NoError(t, err)
	require.Equal(t, 1.0, q.Discount)
	require.Equal(t, []string{"SAVE10"}, q.AppliedCodes)
}

func TestLoaderRequiresCreatePrices(t *testing.T) {
	_, err := (&Loader{}).Load(context.Background(), Sources{})
	require.ErrorIs(t, err, ErrEmptySource)
}

func TestHTTPClientDefaults(t *testing.T) {
	client := HTTPClient(0, 0)
	require.Equal(t, 3, client.MaxAttempts)
	require.Equal(t, 10*time.Second, client.Timeout)
	require.NotNil(t, client.Breaker)
}

func TestFetcherLockedDownloadRunsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"GB": 0.2}`))
	}))
	defer srv.Close()

	cache, mr := newTestCache(t, time.Hour)
	locker := lock.Locker{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), Prefix: "lock:", RetryBackoff: 2 * time.Millisecond}
	f := &Fetcher{HTTP: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}, Cache: cache, Lock: locker}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := f.Fetch(context.Background(), srv.URL+"/vat.json")
			if err != nil || !strings.Contains(string(data), "GB") {
				t.Errorf("unexpected fetch result %q: %v", data, err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, hits.Load())
}

func TestFetcherRevalidatesStaleEntries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"GB": 0.2}`))
	}))
	defer srv.Close()

	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache, _ := newTestCache(t, time.Hour)
	f := &Fetcher{
		HTTP:  resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Cache: cache,
		Now:   func() time.Time { return clock },
	}
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/vat.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"GB": 0.2}`, string(data))

	clock = clock.Add(2 * time.Hour)
	data, err = f.Fetch(ctx, srv.URL+"/vat.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"GB": 0.2}`, string(data))
	require.EqualValues(t, 2, hits.Load())

	// the 304 renewed the entry
	_, err = f.Fetch(ctx, srv.URL+"/vat.json")
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetcherServesStaleWhenUpstreamFails(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"GB": 0.2}`))
	}))
	defer srv.Close()

	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache, _ := newTestCache(t, time.Hour)
	f := &Fetcher{
		HTTP:  resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Cache: cache,
		Now:   func() time.Time { return clock },
	}
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL+"/vat.json")
	require.NoError(t, err)

	down.Store(true)
	clock = clock.Add(3 * time.Hour)
	data, err := f.Fetch(ctx, srv.URL+"/vat.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"GB": 0.2}`, string(data))

	_, err = (&Fetcher{HTTP: f.HTTP}).Fetch(ctx, srv.URL+"/vat.json")
	require.ErrorContains(t, err, "502")
}

func TestFetcherRejectsOversizedDatasets(t *testing.T) {
	rows := "tld,currency,price\n" + strings.Repeat("com,USD,10\n", 10) + "zzlast,USD,1\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rows))
	}))
	defer srv.Close()

	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}
	_, err := (&Fetcher{HTTP: client, MaxBytes: int64(len(rows) - 1)}).Fetch(context.Background(), srv.URL+"/create.csv")
	require.ErrorIs(t, err, ErrDatasetTooLarge)

	data, err := (&Fetcher{HTTP: client, MaxBytes: int64(len(rows))}).Fetch(context.Background(), srv.URL+"/create.csv")
	require.NoError(t, err)
	table, err := ParsePrices(data)
	require.NoError(t, err)
	_, ok := table.Lookup("zzlast")
	require.True(t, ok)
}
