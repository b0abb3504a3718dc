// Package batch fetches a list of URLs in parallel with all-or-nothing
// semantics.
//
// It backs both the install step, where every precache URL must succeed,
// and runtime "cache these URLs" requests. A worker pool bounded by
// MaxConcurrency drains the URL queue; the first failure cancels the
// remaining fetches and no entries are returned.
//
// Example usage:
//
//	fetcher := batch.NewFetcher(networkClient, batch.DefaultConfig())
//	entries, err := fetcher.FetchAll(ctx, urls)
//	if err != nil {
//	    // nothing to commit
//	}
//	err = cache.PutAll(ctx, entries)
package batch
