package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/config"
	"github.com/Sternrassler/webpro-offline/pkg/manifest"
	"github.com/Sternrassler/webpro-offline/pkg/outbox"
)

// newRedisClient accepts either host:port or a redis:// URL.
func newRedisClient(raw string) (*redis.Client, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}

func openStorage(ctx context.Context, cfg config.Config, rdb *redis.Client) (cachestore.Storage, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return cachestore.NewMemoryStorage(), nil
	case config.StorageRedis:
		return cachestore.NewRedisStorage(rdb, cachestore.DefaultRedisPrefix), nil
	case config.StorageSQLite:
		return cachestore.NewSQLiteStorage(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return cachestore.OpenPostgresStorage(ctx, cfg.PostgresDSN)
	case config.StorageDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return cachestore.NewDynamoStorage(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func openOutbox(cfg config.Config, rdb *redis.Client) outbox.Store {
	if cfg.Outbox == config.OutboxRedis {
		return outbox.NewRedisStore(rdb, outbox.DefaultRedisPrefix)
	}
	return outbox.NewMemoryStore()
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return manifest.Default(), nil
	}
	return manifest.Load(path)
}
