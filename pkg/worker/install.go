package worker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
)

// Install populates the static generation with every precache URL.
//
// The step is all-or-nothing: any transport failure or non-2xx answer fails
// the task with ErrInstallFailed, nothing is written and the manager stays
// installing so a later attempt may retry. On success the manager signals
// skip-waiting (when configured) and becomes waiting.
func (m *Manager) Install(ctx context.Context) *Task {
	return m.spawn(ctx, "install", m.install)
}

func (m *Manager) install(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.transition(StateInstalling); err != nil {
		return err
	}

	start := time.Now()
	if err := m.precache(ctx); err != nil {
		installFailures.Inc()
		m.logger.Error().
			Err(err).
			Int("urls", len(m.config.Precache)).
			Msg("Install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if m.config.SkipWaiting {
		m.SkipWaiting()
	}

	m.logger.Info().
		Int("urls", len(m.config.Precache)).
		Dur("duration", time.Since(start)).
		Msg("Install complete")

	return m.transition(StateWaiting)
}

func (m *Manager) precache(ctx context.Context) error {
	static, err := m.storage.Open(ctx, m.config.StaticCache)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.config.StaticCache, err)
	}

	urls, err := m.resolveAll(m.config.Precache)
	if err != nil {
		return err
	}

	entries, err := m.batch.FetchAll(ctx, urls)
	if err != nil {
		return err
	}

	if err := static.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("store precache: %w", err)
	}
	return nil
}

// resolveAll resolves raw URLs against the origin.
func (m *Manager) resolveAll(raw []string) ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := cachestore.Resolve(m.origin, r)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}
