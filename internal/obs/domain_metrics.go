package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuotesTotal counts quote requests by transaction and outcome.
	QuotesTotal *prometheus.CounterVec
	// QuoteLatency records engine time per quote in milliseconds.
	QuoteLatency *prometheus.HistogramVec
	// DiscountsAppliedTotal counts discount codes that made it onto a quote.
	DiscountsAppliedTotal *prometheus.CounterVec
	// DatasetEntries reports the size of each loaded dataset.
	DatasetEntries *prometheus.GaugeVec
)

// MustRegisterDomainMetrics creates the quote collectors once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuotesTotal = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quote requests by transaction and result.",
		}, []string{"transaction", "result"}))
		QuoteLatency = Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_duration_ms",
			Help:      "Time spent computing a quote in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 2500},
		}, []string{"transaction"}))
		DiscountsAppliedTotal = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discounts_applied_total",
			Help:      "Discount codes applied to quotes by aggregation policy.",
		}, []string{"policy"}))
		DatasetEntries = Register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_entries",
			Help:      "Entries in each loaded pricing dataset.",
		}, []string{"dataset"}))
	})
}

// RecordQuote counts one quote outcome. It is a no-op until the domain metrics are registered.
func RecordQuote(transaction, result string, durationMs float64, policy string, applied int) {
	if QuotesTotal == nil {
		return
	}
	QuotesTotal.WithLabelValues(transaction, result).Inc()
	QuoteLatency.WithLabelValues(transaction).Observe(durationMs)
	if applied > 0 {
		DiscountsAppliedTotal.WithLabelValues(policy).Add(float64(applied))
	}
}
