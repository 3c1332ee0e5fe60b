// Package metrics provides Prometheus metrics for alertsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "alertsync"
)

// Sync cycle metrics
var (
	// CyclesTotal counts reconciliation cycles by trigger and outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles",
		},
		[]string{"trigger", "outcome"},
	)

	// CycleDuration tracks cycle latency.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Sync cycle duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"trigger"},
	)

	// LastCycleTimestamp is the unix time of the last finished (non-skipped) cycle.
	LastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix timestamp of the last finished sync cycle",
		},
	)

	// FilteredRecords counts records dropped by the filter stage.
	FilteredRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "filtered_records_total",
			Help:      "Total upstream records dropped by the filter stage",
		},
		[]string{"source"},
	)
)

// Upstream client metrics
var (
	// UpstreamRequests counts upstream HTTP attempts by upstream and result class.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total upstream HTTP attempts",
		},
		[]string{"upstream", "class"}, // ok, transient, auth, rejected
	)

	// UpstreamRetries counts retried upstream attempts.
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total retried upstream attempts",
		},
		[]string{"upstream"},
	)

	// RateLimitWait tracks time spent waiting for a rate limit token.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate limit token",
			Buckets:   []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"upstream"},
	)

	// RateLimitExceeded counts requests abandoned because the token wait exceeded the bound.
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limit_exceeded_total",
			Help:      "Total requests abandoned on rate limit wait",
		},
		[]string{"upstream"},
	)
)

// Matching and propagation metrics
var (
	// MatchesTotal counts accepted match candidates.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "matches_total",
			Help:      "Total accepted match candidates",
		},
		[]string{"type", "certainty"}, // high, low
	)

	// PropagationsTotal counts status transitions by action and result.
	PropagationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagator",
			Name:      "transitions_total",
			Help:      "Total status transitions by result",
		},
		[]string{"action", "result"},
	)

	// PendingActions tracks queued actions waiting for a match.
	PendingActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "propagator",
			Name:      "pending_actions",
			Help:      "Number of queued actions waiting for a match",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit string) {
	BuildInfo.WithLabelValues(version, commit).Set(1)
}

// Certainty returns the certainty label value for a match.
func Certainty(low bool) string {
	if low {
		return "low"
	}
	return "high"
}
