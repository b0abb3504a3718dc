package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Center is an in-process Notifier. It keeps the currently shown
// notifications and logs every change.
type Center struct {
	mu     sync.Mutex
	shown  []*Notification
	logger zerolog.Logger
}

// NewCenter creates an empty notification center.
func NewCenter() *Center {
	return &Center{
		logger: log.With().Str("component", "notify").Logger(),
	}
}

// Show implements Notifier. A notification with the same non-empty tag
// replaces the one already shown.
func (c *Center) Show(ctx context.Context, n *Notification) error {
	if n == nil || n.Title == "" {
		return fmt.Errorf("notification title is required")
	}
	if n.ID == "" {
		n.ID = xid.New().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n.Tag != "" {
		for i, s := range c.shown {
			if s.Tag == n.Tag {
				c.shown = append(c.shown[:i], c.shown[i+1:]...)
				break
			}
		}
	}
	cp := *n
	c.shown = append(c.shown, &cp)

	c.logger.Info().
		Str("id", n.ID).
		Str("title", n.Title).
		Msg("Notification shown")
	return nil
}

// Close implements Notifier.
func (c *Center) Close(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.shown {
		if s.ID == id {
			c.shown = append(c.shown[:i], c.shown[i+1:]...)
			c.logger.Debug().Str("id", id).Msg("Notification closed")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
}

// Shown returns the notifications currently displayed, oldest first.
func (c *Center) Shown() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, 0, len(c.shown))
	for _, s := range c.shown {
		out = append(out, *s)
	}
	return out
}

// Get returns the shown notification with the given id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.shown {
		if s.ID == id {
			return *s, true
		}
	}
	return Notification{}, false
}
