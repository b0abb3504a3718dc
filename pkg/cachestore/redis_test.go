package cachestore

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis, skipping when none is running.
// Integration runs use testcontainers instead (see integration_test.go).
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStorage_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStorage should panic with nil redis client")
		}
	}()
	NewRedisStorage(nil, "")
}

func TestNewRedisStorage_DefaultPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	s := NewRedisStorage(client, "")
	if s.namesKey() != "offline:caches" {
		t.Errorf("namesKey() = %q, want offline:caches", s.namesKey())
	}
	if s.cacheKey("webpro-static-v1.0.0") != "offline:cache:webpro-static-v1.0.0" {
		t.Errorf("cacheKey() = %q", s.cacheKey("webpro-static-v1.0.0"))
	}
}

func TestRedisStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewRedisStorage(setupTestRedis(t), "test")
	})
}
