package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups answered by a generation
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_hits_total",
			Help: "Total number of cache lookups answered from a cache generation",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks lookups no generation could answer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_misses_total",
			Help: "Total number of cache lookups that found no entry",
		},
	)

	// CacheWrites tracks stored entries by generation
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_writes_total",
			Help: "Total number of entries written to a cache generation",
		},
		[]string{"cache"},
	)

	// CacheErrors tracks storage errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_errors_total",
			Help: "Total number of cache storage errors",
		},
		[]string{"backend", "operation"},
	)
)

// observe counts err against backend/operation and returns it unchanged.
func observe(backend, operation string, err error) error {
	if err != nil {
		CacheErrors.WithLabelValues(backend, operation).Inc()
	}
	return err
}
