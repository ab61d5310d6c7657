package resilience

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/tld-quote/internal/obs"
)

var (
	metricsOnce sync.Once

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	upstreamAttempts   *prometheus.CounterVec
	upstreamLatency    *prometheus.HistogramVec
)

// MustRegisterMetrics creates the breaker and upstream collectors once per process.
// Until it is called breakers and clients record nothing.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		breakerState = obs.Register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Breaker state per upstream: 0 closed, 1 open, 2 half-open.",
		}, []string{"target"}))
		breakerTransitions = obs.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Breaker state changes per upstream.",
		}, []string{"target", "from", "to"}))
		upstreamAttempts = obs.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Outbound HTTP attempts by upstream and outcome.",
		}, []string{"target", "result"}))
		upstreamLatency = obs.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_attempt_duration_ms",
			Help:      "Duration of single outbound HTTP attempts in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 1000, 2500, 10000},
		}, []string{"target"}))
	})
}

func observeState(target string, state State) {
	if breakerState != nil {
		breakerState.WithLabelValues(target).Set(float64(state))
	}
}

func observeTransition(target string, from, to State) {
	if breakerTransitions == nil {
		return
	}
	breakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	observeState(target, to)
}

func observeAttempt(target, result string, elapsed time.Duration) {
	if upstreamAttempts == nil {
		return
	}
	upstreamAttempts.WithLabelValues(target, result).Inc()
	if result != "rejected" {
		upstreamLatency.WithLabelValues(target).Observe(obs.Millis(elapsed))
	}
}
