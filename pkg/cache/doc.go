// Package cache stores STAC response bodies with a TTL in an in-process LRU
// and, optionally, in Redis so repeated runs on the same day reuse earlier pages.
//
// Only successful (200) responses are stored. Keys are built from the request
// path and the sorted query, so the same page requested twice maps to the same
// entry regardless of parameter order.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, 1024, time.Hour) // redisClient may be nil
//
//	key := cache.KeyFromURL(u)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch, then
//		_ = manager.Set(ctx, key, cache.NewEntry(body, http.StatusOK, manager.TTL()))
//	}
package cache
