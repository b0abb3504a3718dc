package cachestore

import (
	"context"
	"sync"
)

// MemoryStorage keeps cache generations in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*memoryCache
}

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		caches: make(map[string]*memoryCache),
	}
}

// Open returns the named cache, creating it if needed.
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, entries: make(map[string]*Entry)}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c, nil
}

// Has reports whether the named cache exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Delete removes the named cache.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Keys lists cache names in creation order.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Match returns the first entry for key across all caches.
func (s *MemoryStorage) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if entry, err := c.Match(ctx, key); err == nil {
			CacheHits.WithLabelValues(c.name).Inc()
			return entry, nil
		}
	}
	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) Match(_ context.Context, key RequestKey) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key.String()]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.Clone(), nil
}

func (c *memoryCache) Put(_ context.Context, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key().String()] = entry.Clone()
	CacheWrites.WithLabelValues(c.name).Inc()
	return nil
}

func (c *memoryCache) PutAll(_ context.Context, entries []*Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		c.entries[entry.Key().String()] = entry.Clone()
	}
	CacheWrites.WithLabelValues(c.name).Add(float64(len(entries)))
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key RequestKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	if _, ok := c.entries[k]; !ok {
		return false, nil
	}
	delete(c.entries, k)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]RequestKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]RequestKey, 0, len(c.entries))
	for _, entry := range c.entries {
		keys = append(keys, entry.Key())
	}
	sortKeys(keys)
	return keys, nil
}
