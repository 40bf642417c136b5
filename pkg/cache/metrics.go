package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store reads that returned a live entry.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses tracks store reads that found no live entry.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheKeys tracks the number of live entries in the store.
	CacheKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_cache_keys",
			Help: "Current number of live response cache entries",
		},
	)

	// SweepPurged tracks entries removed by the background sweeper.
	SweepPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_sweep_purged_total",
			Help: "Total number of expired entries purged by the cache sweeper",
		},
	)

	// FlightLeaders tracks coalesced requests that ran the handler.
	FlightLeaders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_leaders_total",
			Help: "Total number of coalesced requests that led a handler invocation",
		},
	)

	// FlightCoalesced tracks followers served by a leader's result.
	FlightCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_coalesced_total",
			Help: "Total number of requests served by another request's in-flight result",
		},
	)

	// FlightFollowerTimeouts tracks follower waits that gave up.
	FlightFollowerTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_follower_timeouts_total",
			Help: "Total number of follower waits that timed out and took over the key",
		},
	)

	// FlightSafetyTimeouts tracks force-rejected in-flight operations.
	FlightSafetyTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_cache_safety_timeouts_total",
			Help: "Total number of in-flight operations force-rejected by the safety timeout",
		},
	)

	// FlightInFlight tracks currently registered in-flight operations.
	FlightInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_cache_inflight_operations",
			Help: "Current number of registered in-flight operations",
		},
	)
)
