// Package config loads offline-proxy process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends understood by the proxy.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageDynamoDB = "dynamodb"
)

// Outbox backends understood by the proxy.
const (
	OutboxMemory = "memory"
	OutboxRedis  = "redis"
)

// ErrInvalidConfig is returned when the environment parses but describes an
// unusable setup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full process configuration of cmd/offline-proxy.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	Origin string `env:"ORIGIN,required"`

	Storage       string `env:"STORAGE" envDefault:"memory"`
	RedisURL      string `env:"REDIS_URL" envDefault:"localhost:6379"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"./offline-cache.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	DynamoDBTable string `env:"DYNAMODB_TABLE" envDefault:"offline-cache"`
	Outbox        string `env:"OUTBOX" envDefault:"memory"`
	ManifestPath  string `env:"MANIFEST_PATH"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchMaxAttempts int           `env:"FETCH_MAX_ATTEMPTS" envDefault:"1"`
	MaxConcurrency   int           `env:"MAX_CONCURRENCY" envDefault:"6"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend needs.
func (c Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{StorageMemory, StorageRedis, StorageSQLite, StoragePostgres, StorageDynamoDB}, c.Storage) {
		errs = append(errs, fmt.Errorf("unknown STORAGE %q", c.Storage))
	}
	if c.Storage == StoragePostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
	}
	if !slices.Contains([]string{OutboxMemory, OutboxRedis}, c.Outbox) {
		errs = append(errs, fmt.Errorf("unknown OUTBOX %q", c.Outbox))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be > 0 (got %s)", c.FetchTimeout))
	}
	if c.FetchMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_ATTEMPTS must be >= 1 (got %d)", c.FetchMaxAttempts))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENCY must be >= 1 (got %d)", c.MaxConcurrency))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c Config) UsesRedis() bool {
	return c.Storage == StorageRedis || c.Outbox == OutboxRedis
}
