package voucher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/tld-quote/internal/resilience"
)

// Doer sends HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = resilience.HTTPClient{}

// RemoteEligibility asks an external endpoint whether a discount applies.
// The context is POSTed as JSON and the endpoint answers {"eligible": bool}.
type RemoteEligibility struct {
	URL    string
	Client Doer
}

type remoteVerdict struct {
	Eligible bool `json:"eligible"`
}

// Eligible implements Eligibility.
func (r RemoteEligibility) Eligible(ctx context.Context, in Context) (bool, error) {
	if r.Client == nil || strings.TrimSpace(r.URL) == "" {
		return false, errors.New("remote eligibility not configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := r.Client.Do(ctx, req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("remote eligibility: unexpected status %s", resp.Status)
	}
	var verdict remoteVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("remote eligibility: decode: %w", err)
	}
	return verdict.Eligible, nil
}
