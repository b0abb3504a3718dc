package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/Sternrassler/webpro-offline/pkg/outbox"
)

// Confirmation shown after a pending submission was delivered.
const (
	syncConfirmTitle = "Mensaje enviado"
	syncConfirmBody  = "Tu mensaje se envió correctamente"
)

// Sync replays the pending submission queued under tag.
//
// Only the configured sync tag is handled. On a 2xx answer the submission
// is cleared and a confirmation notification is shown. Otherwise the
// submission stays queued and the task fails so the host retries later.
func (m *Manager) Sync(ctx context.Context, tag string) *Task {
	if err := m.requireState(StateActive); err != nil {
		return finishedTask("sync", err)
	}
	return m.spawn(ctx, "sync", func(ctx context.Context) error {
		return m.sync(ctx, tag)
	})
}

func (m *Manager) sync(ctx context.Context, tag string) error {
	if tag != m.config.SyncTag {
		syncTotal.WithLabelValues("ignored").Inc()
		m.logger.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return nil
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	sub, err := m.outbox.Load(ctx, tag)
	if errors.Is(err, outbox.ErrNotFound) {
		syncTotal.WithLabelValues("empty").Inc()
		return nil
	}
	if err != nil {
		syncTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load submission: %w", err)
	}

	if err := m.submit(ctx, sub); err != nil {
		syncTotal.WithLabelValues("retained").Inc()
		m.logger.Warn().
			Err(err).
			Str("tag", tag).
			Msg("Background sync failed, submission retained")
		return err
	}

	if err := m.outbox.Clear(ctx, tag); err != nil {
		syncTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("clear submission: %w", err)
	}
	syncTotal.WithLabelValues("delivered").Inc()

	err = m.notifier.Show(ctx, &notify.Notification{
		Tag:   tag,
		Title: syncConfirmTitle,
		Body:  syncConfirmBody,
		Icon:  notify.DefaultIcon,
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to show sync confirmation")
	}

	m.logger.Info().Str("tag", tag).Msg("Pending submission delivered")
	return nil
}

// submit sends sub to the network and drains the answer.
func (m *Manager) submit(ctx context.Context, sub *outbox.Submission) error {
	target := sub.URL
	if target == "" {
		target = m.config.SyncURL
	}
	u, err := m.resolveAll([]string{target})
	if err != nil {
		return err
	}

	method := sub.Method
	if method == "" {
		method = http.MethodPost
	}
	contentType := sub.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u[0].String(), bytes.NewReader(sub.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", sub.Tag, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s answered %d", ErrSyncRejected, u[0], resp.StatusCode)
	}
	return nil
}
