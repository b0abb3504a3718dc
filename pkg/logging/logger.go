// Package logging configures the zerolog global logger for the offline cache
// manager and its proxy command.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is the minimum severity written by the process logger.
type LogLevel string

// Levels accepted by LOG_LEVEL.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config describes the process logger.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console encoding.
	Pretty bool

	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs a timestamped logger built from cfg as the zerolog global
// and returns it. Component loggers derived afterwards inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// ParseLevel maps a LOG_LEVEL value onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch ParseLevel(string(l)) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger returns a child of the global logger tagged with component
// (worker, cachestore, network, offline-proxy).
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Levels as used across the module:
//
// Debug: per-request detail
//   - Cache lookups (hit/miss, cache, url)
//   - Passthrough decisions and ignored events
//   - Dynamic cache writes
//
// Info: lifecycle events
//   - State transitions (installing, waiting, active)
//   - Precache and activation summaries
//   - Sync replays and push notifications
//   - Server startup/shutdown
//
// Warn: degraded but serving
//   - Storage read errors treated as a miss
//   - Stale cache deletes that failed
//   - Retry attempts
//   - Offline fallback served
//
// Error: attention required
//   - Install failures
//   - Sync submissions rejected or unreachable
//   - Configuration errors
//
// Common fields:
//   - component: worker, cachestore, network, offline-proxy
//   - cache: cache identifier
//   - url: request URL
//   - state: manager lifecycle state
//   - source: hit, miss, fallback, bypass
//   - error_class: network, client, server
