package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stac_cache_hits_total",
			Help: "Total number of STAC response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups that missed every layer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stac_cache_misses_total",
			Help: "Total number of STAC response cache misses",
		},
	)

	// CacheSize tracks bytes written to each layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stac_cache_size_bytes",
			Help: "Bytes written to the STAC response cache",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stac_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
