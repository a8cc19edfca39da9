package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fingerprint cache lookups, split by outcome.
var (
	FingerprintCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gifblock_fingerprint_cache_hits_total",
		Help: "Fingerprint lookups answered from the URL cache",
	})

	FingerprintCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gifblock_fingerprint_cache_misses_total",
		Help: "Fingerprint lookups that required a compute round trip",
	})

	FingerprintCachePersists = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gifblock_fingerprint_cache_persists_total",
		Help: "Debounced writes of the fingerprint cache to the store",
	})
)

// Compute resource and bridge metrics.
var (
	ComputeRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gifblock_compute_requests_total",
		Help: "Fingerprint requests sent to the compute resource",
	})

	ComputeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gifblock_compute_errors_total",
			Help: "Failed fingerprint requests by error kind",
		},
		[]string{"kind"},
	)

	ComputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gifblock_compute_latency_seconds",
		Help:    "Round trip time of fingerprint requests",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
	})

	ResourceCreations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gifblock_resource_creations_total",
		Help: "Compute resource launches",
	})

	ResourceState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gifblock_resource_state",
		Help: "Compute resource state (0=absent, 1=creating, 2=ready)",
	})
)

// Matcher metrics.
var (
	BlockDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gifblock_block_decisions_total",
			Help: "Block decisions by result",
		},
		[]string{"result"},
	)

	BlocklistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gifblock_blocklist_size",
		Help: "Number of entries in the blocklist",
	})
)
