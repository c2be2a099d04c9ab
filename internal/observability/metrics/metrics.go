// Package metrics exposes Prometheus collectors for invocation outcomes and
// the session envelope (auth refreshes, rate limiting, retries).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quackcore_invocations_total",
		Help: "Invocations through the facade by plugin and outcome.",
	}, []string{"kind", "plugin", "operation", "outcome"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quackcore_invocation_duration_seconds",
		Help:    "Invocation latency through the facade.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "plugin"})

	authRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quackcore_auth_refreshes_total",
		Help: "Credential acquisitions and refreshes by plugin and result.",
	}, []string{"plugin", "result"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quackcore_rate_limited_total",
		Help: "Calls rejected or delayed by a rate budget.",
	}, []string{"plugin"})

	retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quackcore_retries_total",
		Help: "Automatic retries performed by the session envelope.",
	}, []string{"plugin", "operation"})
)

// ObserveInvocation records one facade invocation.
func ObserveInvocation(kind, plugin, operation, outcome string, duration time.Duration) {
	invocations.WithLabelValues(kind, plugin, operation, outcome).Inc()
	invocationDuration.WithLabelValues(kind, plugin).Observe(duration.Seconds())
}

// ObserveAuthRefresh records a credential acquisition attempt.
func ObserveAuthRefresh(plugin string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	authRefreshes.WithLabelValues(plugin, result).Inc()
}

// ObserveRateLimited records a budget rejection or wait.
func ObserveRateLimited(plugin string) {
	rateLimited.WithLabelValues(plugin).Inc()
}

// ObserveRetry records one automatic retry.
func ObserveRetry(plugin, operation string) {
	retries.WithLabelValues(plugin, operation).Inc()
}
