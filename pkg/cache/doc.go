// Package cache provides a Redis-backed cache for listing API page responses.
//
// A rerun over the same date range issues the same (window, page) requests
// again. When a Manager is configured on the client, successful page bodies
// are stored under a deterministic key and served from Redis until their TTL
// expires. Failed pages are never stored.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.PageKey{
//		Operation: "GET_EVENT_LISTINGS",
//		GTE:       "2020-01-01",
//		LTE:       "2020-01-31",
//		PageSize:  100,
//		Page:      3,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then manager.Set(ctx, key, body)
//	}
//
// # Metrics
//
//   - listing_cache_hits_total (Counter)
//   - listing_cache_misses_total (Counter)
//   - listing_cache_written_bytes_total (Counter)
//   - listing_cache_errors_total{operation} (Counter)
package cache
