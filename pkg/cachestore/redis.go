package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// DefaultRedisPrefix namespaces all keys written by RedisStorage.
const DefaultRedisPrefix = "offline"

// RedisStorage stores generations in Redis.
//
// Layout:
//
//	<prefix>:caches        sorted set of cache names scored by creation time
//	<prefix>:cache:<name>  hash of request key -> JSON entry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

type redisCache struct {
	s    *RedisStorage
	name string
}

// NewRedisStorage creates a storage backed by redisClient.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":caches"
}

func (s *RedisStorage) cacheKey(name string) string {
	return s.prefix + ":cache:" + name
}

// Open returns the named cache, registering it if needed.
func (s *RedisStorage) Open(ctx context.Context, name string) (Cache, error) {
	err := s.redis.ZAddNX(ctx, s.namesKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, observe(backendRedis, "open", fmt.Errorf("redis zadd: %w", err))
	}
	return &redisCache{s: s, name: name}, nil
}

// Has reports whether the named cache exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.redis.ZScore(ctx, s.namesKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, observe(backendRedis, "has", fmt.Errorf("redis zscore: %w", err))
	}
	return true, nil
}

// Delete removes the named cache and its hash in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, observe(backendRedis, "delete", fmt.Errorf("redis delete cache: %w", err))
	}
	return removed.Val() > 0, nil
}

// Keys lists cache names in creation order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, observe(backendRedis, "keys", fmt.Errorf("redis zrange: %w", err))
	}
	return names, nil
}

// Match returns the first entry for key across all caches.
func (s *RedisStorage) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		entry, err := (&redisCache{s: s, name: name}).Match(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		CacheHits.WithLabelValues(name).Inc()
		return entry, nil
	}
	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStorage) Close() error {
	return nil
}

func (c *redisCache) Name() string {
	return c.name
}

func (c *redisCache) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	data, err := c.s.redis.HGet(ctx, c.s.cacheKey(c.name), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, observe(backendRedis, "match", fmt.Errorf("redis hget: %w", err))
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, observe(backendRedis, "match", fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	return &entry, nil
}

func (c *redisCache) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return observe(backendRedis, "put", fmt.Errorf("marshal cache entry: %w", err))
	}
	if err := c.s.redis.HSet(ctx, c.s.cacheKey(c.name), entry.Key().String(), data).Err(); err != nil {
		return observe(backendRedis, "put", fmt.Errorf("redis hset: %w", err))
	}
	CacheWrites.WithLabelValues(c.name).Inc()
	return nil
}

func (c *redisCache) PutAll(ctx context.Context, entries []*Entry) error {
	values := make([]interface{}, 0, len(entries)*2)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return observe(backendRedis, "put_all", fmt.Errorf("marshal cache entry: %w", err))
		}
		values = append(values, entry.Key().String(), data)
	}
	if len(values) == 0 {
		return nil
	}

	// HSET with many fields is a single command and therefore atomic
	if err := c.s.redis.HSet(ctx, c.s.cacheKey(c.name), values...).Err(); err != nil {
		return observe(backendRedis, "put_all", fmt.Errorf("redis hset: %w", err))
	}
	CacheWrites.WithLabelValues(c.name).Add(float64(len(entries)))
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key RequestKey) (bool, error) {
	n, err := c.s.redis.HDel(ctx, c.s.cacheKey(c.name), key.String()).Result()
	if err != nil {
		return false, observe(backendRedis, "delete_entry", fmt.Errorf("redis hdel: %w", err))
	}
	return n > 0, nil
}

func (c *redisCache) Keys(ctx context.Context) ([]RequestKey, error) {
	fields, err := c.s.redis.HKeys(ctx, c.s.cacheKey(c.name)).Result()
	if err != nil {
		return nil, observe(backendRedis, "entry_keys", fmt.Errorf("redis hkeys: %w", err))
	}
	return parseKeys(fields)
}

func parseKeys(fields []string) ([]RequestKey, error) {
	keys := make([]RequestKey, 0, len(fields))
	for _, f := range fields {
		k, err := ParseKey(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}
