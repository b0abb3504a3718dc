package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"ORIGIN": "https://webpro.example"})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("Storage = %q, want %q", cfg.Storage, StorageMemory)
	}
	if cfg.Outbox != OutboxMemory {
		t.Errorf("Outbox = %q, want %q", cfg.Outbox, OutboxMemory)
	}
	if cfg.SQLitePath != "./offline-cache.db" {
		t.Errorf("SQLitePath = %q", cfg.SQLitePath)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.FetchTimeout)
	}
	if cfg.FetchMaxAttempts != 1 {
		t.Errorf("FetchMaxAttempts = %d, want 1", cfg.FetchMaxAttempts)
	}
	if cfg.MaxConcurrency != 6 {
		t.Errorf("MaxConcurrency = %d, want 6", cfg.MaxConcurrency)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.UsesRedis() {
		t.Error("UsesRedis() = true for memory backends")
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"ORIGIN":             "https://webpro.example",
		"PORT":               "9090",
		"STORAGE":            "redis",
		"REDIS_URL":          "cache:6379",
		"LOG_PRETTY":         "true",
		"FETCH_TIMEOUT":      "5s",
		"FETCH_MAX_ATTEMPTS": "3",
	})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Port != "9090" || cfg.RedisURL != "cache:6379" {
		t.Errorf("Port/RedisURL = %q/%q", cfg.Port, cfg.RedisURL)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty = false, want true")
	}
	if cfg.FetchTimeout != 5*time.Second || cfg.FetchMaxAttempts != 3 {
		t.Errorf("FetchTimeout/FetchMaxAttempts = %v/%d", cfg.FetchTimeout, cfg.FetchMaxAttempts)
	}
	if !cfg.UsesRedis() {
		t.Error("UsesRedis() = false for redis storage")
	}
}

func TestLoadFrom_MissingOrigin(t *testing.T) {
	if _, err := LoadFrom(map[string]string{}); err == nil {
		t.Fatal("LoadFrom() without ORIGIN should fail")
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown storage", map[string]string{"STORAGE": "s3"}, "unknown STORAGE"},
		{"postgres without dsn", map[string]string{"STORAGE": "postgres"}, "POSTGRES_DSN"},
		{"unknown outbox", map[string]string{"OUTBOX": "kafka"}, "unknown OUTBOX"},
		{"zero attempts", map[string]string{"FETCH_MAX_ATTEMPTS": "0"}, "FETCH_MAX_ATTEMPTS"},
		{"zero concurrency", map[string]string{"MAX_CONCURRENCY": "0"}, "MAX_CONCURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env["ORIGIN"] = "https://webpro.example"
			_, err := LoadFrom(tt.env)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
