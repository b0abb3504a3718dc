package worker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Control message types posted by pages.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

// ControlMessage is a JSON control message.
type ControlMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseMessage decodes a control message. It returns ok=false for malformed data.
func ParseMessage(data []byte) (msg ControlMessage, ok bool) {
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	return msg, msg.Type != ""
}

// Message handles a control message from a page.
//
// SKIP_WAITING signals skip-waiting. CACHE_URLS fetches the payload URLs and
// stores all of them in the dynamic generation regardless of the admission
// policy; any failure stores none. Unknown or malformed messages are ignored.
func (m *Manager) Message(ctx context.Context, data []byte) *Task {
	if err := m.requireState(StateInstalling, StateWaiting, StateActivating, StateActive); err != nil {
		return finishedTask("message", err)
	}
	return m.spawn(ctx, "message", func(ctx context.Context) error {
		return m.message(ctx, data)
	})
}

func (m *Manager) message(ctx context.Context, data []byte) error {
	msg, ok := ParseMessage(data)
	if !ok {
		messagesTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	switch msg.Type {
	case MessageSkipWaiting:
		messagesTotal.WithLabelValues(msg.Type).Inc()
		m.SkipWaiting()
		return nil

	case MessageCacheURLs:
		messagesTotal.WithLabelValues(msg.Type).Inc()
		var urls []string
		if err := json.Unmarshal(msg.Payload, &urls); err != nil {
			m.logger.Debug().Err(err).Msg("Ignoring CACHE_URLS with malformed payload")
			return nil
		}
		return m.cacheURLs(ctx, urls)

	default:
		messagesTotal.WithLabelValues("unknown").Inc()
		m.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}

func (m *Manager) cacheURLs(ctx context.Context, raw []string) error {
	if len(raw) == 0 {
		return nil
	}

	urls, err := m.resolveAll(raw)
	if err != nil {
		return err
	}

	dynamic, err := m.storage.Open(ctx, m.config.DynamicCache)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.config.DynamicCache, err)
	}

	entries, err := m.batch.FetchAll(ctx, urls)
	if err != nil {
		return fmt.Errorf("cache urls: %w", err)
	}

	if err := dynamic.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("store urls: %w", err)
	}

	m.logger.Info().
		Int("urls", len(entries)).
		Str("cache", m.config.DynamicCache).
		Msg("Cached requested URLs")
	return nil
}
