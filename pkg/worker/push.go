package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"slices"

	"github.com/Sternrassler/webpro-offline/pkg/notify"
)

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	PrimaryKey json.RawMessage `json:"primaryKey,omitempty"`
}

// Push shows a notification for payload. An absent, malformed or untitled
// payload is ignored.
func (m *Manager) Push(ctx context.Context, payload []byte) *Task {
	if err := m.requireState(StateActive); err != nil {
		return finishedTask("push", err)
	}
	return m.spawn(ctx, "push", func(ctx context.Context) error {
		return m.push(ctx, payload)
	})
}

func (m *Manager) push(ctx context.Context, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		pushIgnored.WithLabelValues("empty").Inc()
		return nil
	}

	var p PushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		pushIgnored.WithLabelValues("malformed").Inc()
		m.logger.Debug().Err(err).Msg("Ignoring malformed push payload")
		return nil
	}
	if p.Title == "" {
		pushIgnored.WithLabelValues("untitled").Inc()
		m.logger.Debug().Msg("Ignoring push payload without title")
		return nil
	}

	return m.notifier.Show(ctx, &notify.Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    notify.DefaultIcon,
		Badge:   notify.DefaultBadge,
		Vibrate: slices.Clone(notify.DefaultVibrate),
		Data: &notify.Data{
			DateOfArrival: m.config.Now(),
			PrimaryKey:    p.PrimaryKey,
		},
		Actions: notify.PushActions(),
	})
}

// NotificationClick handles a click on notification n. The notification is
// always closed; the explore action also opens the origin root page.
func (m *Manager) NotificationClick(ctx context.Context, action string, n notify.Notification) *Task {
	if err := m.requireState(StateActive); err != nil {
		return finishedTask("notificationclick", err)
	}
	return m.spawn(ctx, "notificationclick", func(ctx context.Context) error {
		if err := m.notifier.Close(ctx, n.ID); err != nil {
			m.logger.Debug().Err(err).Str("id", n.ID).Msg("Notification already dismissed")
		}

		if action != notify.ActionExplore {
			return nil
		}
		return m.clients.OpenWindow(ctx, m.origin.ResolveReference(&url.URL{Path: "/"}).String())
	})
}
