package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/tld-quote/internal/common"
)

// ErrDisabled marks an optional dependency that is not configured. It is reported
// but does not fail readiness.
var ErrDisabled = errors.New("disabled")

// Check is one named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Report is the readiness body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler serves the liveness and readiness probes.
type Handler struct {
	Checks []Check
	// Timeout bounds each probe; zero means 300ms.
	Timeout time.Duration
}

// Live always answers 200 while the process can serve HTTP.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, Report{Status: "ok", Checks: map[string]string{}})
}

// Ready runs every probe concurrently and answers 503 when any enabled one fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.run(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, report)
}

func (h Handler) run(ctx context.Context) Report {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	report := Report{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	if len(h.Checks) == 0 {
		report.Status = "unavailable"
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, check := range h.Checks {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			result := "ok"
			failed := false
			if err := check.Probe(probeCtx); err != nil {
				if errors.Is(err, ErrDisabled) {
					result = ErrDisabled.Error()
				} else {
					result = err.Error()
					failed = true
					zerolog.Ctx(ctx).Warn().Err(err).Str("check", check.Name).Msg("readiness_check_failed")
				}
			}
			mu.Lock()
			report.Checks[check.Name] = result
			if failed {
				report.Status = "unavailable"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}
