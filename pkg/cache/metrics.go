package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_cache_hits_total",
			Help: "Total number of listing page cache hits",
		},
	)

	// CacheMisses tracks page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_cache_misses_total",
			Help: "Total number of listing page cache misses",
		},
	)

	// CacheWrittenBytes counts bytes written to the cache, overwrites included
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_cache_written_bytes_total",
			Help: "Total bytes written to the listing page cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
