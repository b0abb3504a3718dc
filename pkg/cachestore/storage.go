package cachestore

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates no generation holds the requested key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry or key could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Storage is the set of named cache generations owned by one origin.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the named cache, creating it if it does not exist.
	Open(ctx context.Context, name string) (Cache, error)

	// Has reports whether the named cache exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named cache and all its entries.
	// It reports whether a cache was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Match looks the key up in every cache in creation order and returns
	// the first hit. Returns ErrCacheMiss if no cache holds the key.
	Match(ctx context.Context, key RequestKey) (*Entry, error)

	// Close releases resources owned by the storage.
	Close() error
}

// Cache is one named generation.
type Cache interface {
	// Name returns the generation identifier.
	Name() string

	// Match returns the entry stored under key or ErrCacheMiss.
	Match(ctx context.Context, key RequestKey) (*Entry, error)

	// Put upserts entry under entry.Key().
	Put(ctx context.Context, entry *Entry) error

	// PutAll upserts all entries atomically: either every entry is stored
	// or none is.
	PutAll(ctx context.Context, entries []*Entry) error

	// Delete removes the entry stored under key and reports whether it existed.
	Delete(ctx context.Context, key RequestKey) (bool, error)

	// Keys lists stored request keys.
	Keys(ctx context.Context) ([]RequestKey, error)
}
