// Package cachestore provides named, versioned cache generations of stored
// HTTP responses.
//
// A Storage holds any number of named caches. Caches are created lazily on
// first Open and live until Delete is called. Each Cache maps a RequestKey
// (method + absolute URL) to an immutable Entry; writes are upserts, so
// concurrent writers of the same key are safe and the last write wins.
//
// # Backends
//
//   - MemoryStorage: process-local, used by tests and the default proxy setup
//   - RedisStorage: sorted set of cache names + one hash per cache
//   - SQLStorage: SQLite (glebarez/go-sqlite) or Postgres (lib/pq)
//   - DynamoStorage: single table, partition per cache
//
// # Basic Usage
//
//	storage := cachestore.NewMemoryStorage()
//
//	static, err := storage.Open(ctx, "webpro-static-v1.0.0")
//	if err != nil {
//		return err
//	}
//
//	entry, err := cachestore.ResponseToEntry(req, resp, cachestore.TypeBasic)
//	if err != nil {
//		return err
//	}
//	if err := static.Put(ctx, entry); err != nil {
//		return err
//	}
//
//	// Lookup across every generation, oldest first
//	hit, err := storage.Match(ctx, cachestore.KeyFor(req))
//	if errors.Is(err, cachestore.ErrCacheMiss) {
//		// go to the network
//	}
//
// # Metrics
//
//   - offline_cache_hits_total{cache} - lookups answered from a generation
//   - offline_cache_misses_total - lookups that found nothing
//   - offline_cache_writes_total{cache} - entries written
//   - offline_cache_errors_total{backend,operation} - storage errors
//
// Entries never expire. Invalidation happens by deleting a whole generation.
package cachestore
