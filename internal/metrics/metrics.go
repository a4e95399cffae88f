// Package metrics exposes Prometheus instrumentation for the scraping
// pipeline. Collectors are registered with the default registry and
// served from /metrics when the HTTP transport is enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search lifecycle metrics
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detloc_searches_total",
			Help: "Total number of searches by tool and outcome status",
		},
		[]string{"tool", "status"},
	)

	SearchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detloc_search_duration_seconds",
			Help:    "End-to-end search duration including pacing delays",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"tool"},
	)

	SearchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detloc_search_errors_total",
			Help: "Total number of failed searches by error kind",
		},
		[]string{"kind"},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_search_retries_total",
			Help: "Total number of retried search attempts",
		},
	)

	// Upstream request metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detloc_upstream_requests_total",
			Help: "Total upstream requests by request kind and response classification",
		},
		[]string{"kind", "class"},
	)

	UpstreamDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detloc_upstream_request_duration_seconds",
			Help:    "Upstream round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	CaptchaEncountersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_captcha_encounters_total",
			Help: "Total number of CAPTCHA challenges observed",
		},
	)

	// Proxy pool metrics
	ProxyPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "detloc_proxy_pool_size",
			Help: "Proxies in the pool by state",
		},
		[]string{"state"}, // available, quarantined
	)

	ProxyAcquireFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_proxy_acquire_failures_total",
			Help: "Total acquisitions that found no healthy proxy",
		},
	)

	ProxyQuarantinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_proxy_quarantines_total",
			Help: "Total proxy quarantine events",
		},
	)

	// Threat level metrics
	ThreatLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detloc_threat_level",
			Help: "Current threat assessment: 0 green, 1 yellow, 2 orange, 3 red",
		},
	)

	ThreatTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detloc_threat_transitions_total",
			Help: "Threat level transitions by source and destination level",
		},
		[]string{"from", "to"},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_cache_hits_total",
			Help: "Result cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_cache_misses_total",
			Help: "Result cache misses",
		},
	)

	// Admission control metrics
	AdmissionWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detloc_admission_wait_seconds",
			Help:    "Time spent waiting for traffic admission",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"priority"},
	)

	BrowserFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detloc_browser_fallbacks_total",
			Help: "Total searches escalated to the browser fallback",
		},
	)
)

// RecordSearch records a completed search.
func RecordSearch(tool, status string, duration time.Duration) {
	SearchesTotal.WithLabelValues(tool, status).Inc()
	SearchDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSearchError records a search that failed with the given kind.
func RecordSearchError(tool, kind string) {
	SearchesTotal.WithLabelValues(tool, "error").Inc()
	SearchErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordUpstream records one upstream round trip.
func RecordUpstream(kind, class string, duration time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(kind, class).Inc()
	UpstreamDurationSeconds.Observe(duration.Seconds())
}

// RecordProxyPool updates the pool state gauges.
func RecordProxyPool(available, quarantined int) {
	ProxyPoolSize.WithLabelValues("available").Set(float64(available))
	ProxyPoolSize.WithLabelValues("quarantined").Set(float64(quarantined))
}

// RecordThreatTransition records a threat level change and updates the
// current-level gauge.
func RecordThreatTransition(from, to string, level int) {
	ThreatTransitionsTotal.WithLabelValues(from, to).Inc()
	ThreatLevel.Set(float64(level))
}

// RecordAdmissionWait records time spent queued for admission.
func RecordAdmissionWait(priority string, wait time.Duration) {
	AdmissionWaitSeconds.WithLabelValues(priority).Observe(wait.Seconds())
}
