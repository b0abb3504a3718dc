package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used by NewRedisStore when none is given.
const DefaultRedisPrefix = "offline"

// RedisStore keeps submissions in Redis, one string key per tag.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
// Panics if client is nil.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if client == nil {
		panic("outbox: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (r *RedisStore) key(tag string) string {
	return r.prefix + ":outbox:" + tag
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, tag string) (*Submission, error) {
	data, err := r.redis.Get(ctx, r.key(tag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal submission: %w", err)
	}
	return &s, nil
}

// Save implements Store. Submissions never expire.
func (r *RedisStore) Save(ctx context.Context, s *Submission) error {
	if s == nil || s.Tag == "" {
		return fmt.Errorf("submission tag is required")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	if err := r.redis.Set(ctx, r.key(s.Tag), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Store.
func (r *RedisStore) Clear(ctx context.Context, tag string) error {
	if err := r.redis.Del(ctx, r.key(tag)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
