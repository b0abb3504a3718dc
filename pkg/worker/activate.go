package worker

import (
	"context"
	"fmt"
)

// Activate deletes every cache generation other than the two live ones,
// claims open pages and makes the manager active. A failed deletion is
// logged and does not block the others or the transition.
func (m *Manager) Activate(ctx context.Context) *Task {
	return m.spawn(ctx, "activate", m.activate)
}

func (m *Manager) activate(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.transition(StateActivating); err != nil {
		return err
	}

	names, err := m.storage.Keys(ctx)
	if err != nil {
		m.transition(StateWaiting)
		return fmt.Errorf("list caches: %w", err)
	}

	deleted := 0
	for _, name := range names {
		if name == m.config.StaticCache || name == m.config.DynamicCache {
			continue
		}

		if _, err := m.storage.Delete(ctx, name); err != nil {
			staleDeletes.WithLabelValues("error").Inc()
			m.logger.Warn().
				Err(err).
				Str("cache", name).
				Msg("Failed to delete stale cache")
			continue
		}

		deleted++
		staleDeletes.WithLabelValues("ok").Inc()
		m.logger.Info().Str("cache", name).Msg("Deleted stale cache")
	}

	if err := m.clients.Claim(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to claim clients")
	}

	if err := m.transition(StateActive); err != nil {
		return err
	}

	m.logger.Info().
		Int("deleted", deleted).
		Msg("Activated")
	return nil
}
