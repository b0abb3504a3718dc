package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Clients is the set of pages controlled by the origin.
type Clients interface {
	// Claim takes control of already-open pages without waiting for a navigation.
	Claim(ctx context.Context) error
	// OpenWindow opens or focuses a page at url.
	OpenWindow(ctx context.Context, url string) error
}

// ClientSet is an in-process Clients implementation that records claims and
// opened windows.
type ClientSet struct {
	mu     sync.Mutex
	claims int
	opened []string
	logger zerolog.Logger
}

// NewClientSet creates an empty client set.
func NewClientSet() *ClientSet {
	return &ClientSet{logger: log.With().Str("component", "clients").Logger()}
}

// Claim implements Clients.
func (c *ClientSet) Claim(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.claims++
	c.logger.Debug().Int("claims", c.claims).Msg("Clients claimed")
	return nil
}

// OpenWindow implements Clients.
func (c *ClientSet) OpenWindow(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opened = append(c.opened, url)
	c.logger.Info().Str("url", url).Msg("Window opened")
	return nil
}

// Claims returns how often pages were claimed.
func (c *ClientSet) Claims() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

// Opened returns the URLs of opened windows in order.
func (c *ClientSet) Opened() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.opened...)
}
