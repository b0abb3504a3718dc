package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/batch"
	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/network"
	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/Sternrassler/webpro-offline/pkg/outbox"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager is the offline cache manager for one origin and one version.
type Manager struct {
	config   Config
	origin   *url.URL
	fallback cachestore.RequestKey
	external []string

	storage  cachestore.Storage
	fetcher  network.Fetcher
	batch    *batch.Fetcher
	outbox   outbox.Store
	notifier notify.Notifier
	clients  Clients

	mu    sync.Mutex
	state State

	// lifecycle serializes install and activate.
	lifecycle sync.Mutex
	// syncMu serializes sync runs so a payload is submitted at most once
	// after a success.
	syncMu sync.Mutex

	skipOnce sync.Once
	skip     chan struct{}

	tasks *inflight
	life  context.Context
	stop  context.CancelCauseFunc

	logger zerolog.Logger
}

// New creates a manager in the uninstalled state.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	origin, err := network.ParseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}

	if cfg.FallbackURL == "" {
		cfg.FallbackURL = "/index.html"
	}
	fallback, err := cachestore.KeyForURL(origin, cfg.FallbackURL)
	if err != nil {
		return nil, fmt.Errorf("fallback url: %w", err)
	}

	if cfg.Outbox == nil {
		cfg.Outbox = outbox.NewMemoryStore()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewCenter()
	}
	if cfg.Clients == nil {
		cfg.Clients = NewClientSet()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	external := make([]string, 0, len(cfg.ExternalHosts))
	for _, h := range cfg.ExternalHosts {
		external = append(external, strings.ToLower(h))
	}

	life, stop := context.WithCancelCause(context.Background())

	return &Manager{
		config:   cfg,
		origin:   origin,
		fallback: fallback,
		external: external,
		storage:  cfg.Storage,
		fetcher:  cfg.Fetcher,
		batch:    batch.NewFetcher(cfg.Fetcher, cfg.Batch),
		outbox:   cfg.Outbox,
		notifier: cfg.Notifier,
		clients:  cfg.Clients,
		state:    StateUninstalled,
		skip:     make(chan struct{}),
		tasks:    newInflight(),
		life:     life,
		stop:     stop,
		logger: log.With().
			Str("component", "worker").
			Str("static_cache", cfg.StaticCache).
			Logger(),
	}, nil
}

// StaticCache returns the static generation identifier.
func (m *Manager) StaticCache() string { return m.config.StaticCache }

// DynamicCache returns the dynamic generation identifier.
func (m *Manager) DynamicCache() string { return m.config.DynamicCache }

// Origin returns a copy of the origin the manager is attached to.
func (m *Manager) Origin() *url.URL {
	u := *m.origin
	return &u
}

// SkipWaiting signals that the manager should activate without waiting for
// older versions to release their pages.
func (m *Manager) SkipWaiting() {
	m.skipOnce.Do(func() {
		m.logger.Debug().Msg("Skip waiting requested")
		close(m.skip)
	})
}

// SkipWaitingRequested is closed once SkipWaiting was called.
func (m *Manager) SkipWaitingRequested() <-chan struct{} {
	return m.skip
}

func (m *Manager) skipRequested() bool {
	select {
	case <-m.skip:
		return true
	default:
		return false
	}
}

// spawn runs fn as a tracked task. The task context ends when ctx ends or
// the manager is torn down.
func (m *Manager) spawn(ctx context.Context, event string, fn func(context.Context) error) *Task {
	if !m.tasks.add() {
		tasksTotal.WithLabelValues(event, "rejected").Inc()
		return finishedTask(event, ErrClosed)
	}

	t := newTask(event)
	taskCtx, cancel := m.bind(ctx)

	go func() {
		defer m.tasks.done()
		defer cancel()

		err := fn(taskCtx)
		switch {
		case err == nil:
			tasksTotal.WithLabelValues(event, "ok").Inc()
		case errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed):
			tasksTotal.WithLabelValues(event, "cancelled").Inc()
			m.logger.Debug().Err(err).Str("event", event).Msg("Task cancelled")
		default:
			tasksTotal.WithLabelValues(event, "error").Inc()
			m.logger.Warn().Err(err).Str("event", event).Msg("Task failed")
		}
		t.finish(err)
	}()

	return t
}

// bind derives a context that is also cancelled when the manager is torn down.
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(m.life, func() { cancel(context.Cause(m.life)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Settle waits until every in-flight task, including background cache
// writes, has finished or ctx ends.
func (m *Manager) Settle(ctx context.Context) error {
	return m.tasks.wait(ctx)
}

// quiesce stops m from starting tasks and waits for the running ones, so no
// write of m lands after it returns. On error m accepts tasks again.
func (m *Manager) quiesce(ctx context.Context) error {
	m.tasks.pause()
	if err := m.tasks.wait(ctx); err != nil {
		m.tasks.resume()
		return err
	}
	m.logger.Debug().Msg("Quiesced for handover")
	return nil
}

// unquiesce undoes quiesce after a failed handover.
func (m *Manager) unquiesce() {
	m.tasks.resume()
}

// Close stops accepting events and waits for in-flight tasks. When ctx ends
// first, the remaining tasks are cancelled and Close returns once they have
// unwound. The manager becomes redundant.
func (m *Manager) Close(ctx context.Context) error {
	if m.tasks.close() {
		return nil
	}

	err := m.tasks.wait(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Teardown deadline reached, cancelling in-flight tasks")
	}
	m.stop(ErrClosed)
	// Cancelled tasks return promptly.
	m.tasks.wait(context.Background())

	m.transition(StateRedundant)
	return err
}
