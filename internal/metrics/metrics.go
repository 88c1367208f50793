// Package metrics provides Prometheus instrumentation for the guardian
// moderation engine. It exposes counters for check outcomes and provider
// calls, histograms for decision and provider latency, and gauges for
// in-flight work.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChecksTotal counts completed moderation checks, labeled by outcome:
	// "allowed", "blocked", "rejected", or "failed".
	ChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_checks_total",
		Help: "Total number of moderation checks completed",
	}, []string{"outcome"})

	// BlockedTotal counts blocked checks by final category.
	BlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_blocked_total",
		Help: "Total number of blocked checks by category",
	}, []string{"category"})

	// CheckDuration records end-to-end decision latency in seconds.
	CheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardian_check_duration_seconds",
		Help:    "End-to-end moderation decision latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// ActiveChecks tracks the number of checks currently in the pipeline.
	ActiveChecks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_active_checks",
		Help: "Current number of checks in the pipeline",
	})

	// ProviderCalls counts external provider calls, labeled by provider and
	// status: "ok", "error", "rejected", or "panic".
	ProviderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_provider_calls_total",
		Help: "Total number of external provider calls",
	}, []string{"provider", "status"})

	// ProviderDuration records per-provider call latency in seconds.
	ProviderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardian_provider_duration_seconds",
		Help:    "External provider call latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
	}, []string{"provider"})

	// CacheHits counts decision-cache hits.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_cache_hits_total",
		Help: "Total number of decision cache hits",
	})

	// CacheMisses counts decision-cache misses.
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_cache_misses_total",
		Help: "Total number of decision cache misses",
	})

	// AlertsTotal counts parent alerts published.
	AlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_alerts_total",
		Help: "Total number of parent alerts published",
	})

	// AuditWrites counts audit-log writes, labeled by status: "ok" or "error".
	AuditWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_audit_writes_total",
		Help: "Total number of audit log writes",
	}, []string{"status"})

	// FeedClients tracks the number of connected activity-feed subscribers.
	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_feed_clients",
		Help: "Current number of activity feed subscribers",
	})
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		BlockedTotal,
		CheckDuration,
		ActiveChecks,
		ProviderCalls,
		ProviderDuration,
		CacheHits,
		CacheMisses,
		AlertsTotal,
		AuditWrites,
		FeedClients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
