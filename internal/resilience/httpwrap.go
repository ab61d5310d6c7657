package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError is a retryable upstream answer: 429 or any 5xx.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "resilience: upstream status " + e.Status
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// HTTPClient sends requests through a breaker with per-attempt timeouts, retrying
// transport errors and retryable statuses with jittered exponential backoff.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	// Target labels metrics; it defaults to the request host.
	Target      string
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// Do sends req and returns the first non-retryable response. The body is buffered
// so every attempt can replay it. The caller closes the returned body.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	target := cl.Target
	if target == "" {
		target = req.URL.Host
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	attempt := func() (*http.Response, error) {
		if !cl.Breaker.Allow(ctx) {
			observeAttempt(target, "rejected", 0)
			return nil, backoff.Permanent(ErrOpenCircuit)
		}
		start := time.Now()
		resp, err := cl.send(ctx, req, body)
		if err == nil && retryable(resp.StatusCode) {
			err = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if err != nil {
			cl.Breaker.Report(ctx, false)
			observeAttempt(target, "failure", time.Since(start))
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		cl.Breaker.Report(ctx, true)
		observeAttempt(target, "success", time.Since(start))
		return resp, nil
	}
	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(cl.policy()),
		backoff.WithMaxTries(uint(max(cl.MaxAttempts, 1))),
	)
}

func (cl HTTPClient) policy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cl.BaseBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.RandomizationFactor = min(max(cl.Jitter, 0), 1)
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	return b
}

func (cl HTTPClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	clone := req.Clone(callCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	resp, err := cl.Client.Do(clone)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("resilience: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	// the attempt deadline must outlive Do until the caller has read the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()
	return io.ReadAll(req.Body)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
