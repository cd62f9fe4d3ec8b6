// Package observability holds the Prometheus collectors for the ingestion and query paths.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "ledger",
		Name:      "outcomes_total",
		Help:      "Ledger ingestions by outcome (inserted, skipped).",
	}, []string{"outcome"})

	ledgerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "ledger",
		Name:      "failures_total",
		Help:      "Per-day ingestions that returned an error.",
	})

	lastContributionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daystats",
		Subsystem: "ledger",
		Name:      "last_contribution_timestamp_seconds",
		Help:      "Unix timestamp of the most recent accepted population contribution.",
	})

	queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daystats",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Time spent serving range queries, cache hits included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	queryCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "query",
		Name:      "cache_lookups_total",
		Help:      "Range query cache lookups by result (hit, miss).",
	}, []string{"result"})

	invariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "query",
		Name:      "invariant_violations_total",
		Help:      "Days returned with a step record but no population statistic.",
	})
)

func init() {
	prometheus.MustRegister(ledgerOutcomes, ledgerFailures, lastContributionGauge, queryDuration, queryCacheLookups, invariantViolations)
}

// RecordLedgerOutcome counts a successful ledger write.
func RecordLedgerOutcome(outcome string, at time.Time) {
	ledgerOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "inserted" && !at.IsZero() {
		lastContributionGauge.Set(float64(at.Unix()))
	}
}

// RecordLedgerFailure counts a failed per-day ingestion.
func RecordLedgerFailure() {
	ledgerFailures.Inc()
}

// ObserveQuery records the latency of a range query.
func ObserveQuery(d time.Duration) {
	queryDuration.Observe(d.Seconds())
}

// RecordCacheLookup counts a query cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		queryCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	queryCacheLookups.WithLabelValues("miss").Inc()
}

// RecordInvariantViolation counts a day served without a population statistic.
func RecordInvariantViolation() {
	invariantViolations.Inc()
}

// LedgerOutcomeCounter exposes the outcome counter for assertions in tests.
func LedgerOutcomeCounter(outcome string) prometheus.Counter {
	return ledgerOutcomes.WithLabelValues(outcome)
}

// InvariantViolationCounter exposes the violation counter for assertions in tests.
func InvariantViolationCounter() prometheus.Counter {
	return invariantViolations
}
