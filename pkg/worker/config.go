package worker

import (
	"fmt"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/batch"
	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/manifest"
	"github.com/Sternrassler/webpro-offline/pkg/network"
	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/Sternrassler/webpro-offline/pkg/outbox"
)

// Config holds the manager configuration. Cache generation identifiers and
// the precache list are explicit inputs, so a version bump is a config change.
type Config struct {
	// Origin is the scheme://host[:port] the manager is attached to.
	Origin string

	// StaticCache and DynamicCache are the two live generation identifiers.
	StaticCache  string
	DynamicCache string

	// Precache lists the URLs fetched at install, relative to Origin or absolute.
	Precache []string

	// ExternalHosts are cross-origin hosts served cache-first. A host
	// matches itself and its subdomains.
	ExternalHosts []string

	// FallbackURL is served to failed HTML navigations when cached.
	FallbackURL string

	// SkipWaiting signals readiness to activate right after install.
	SkipWaiting bool

	// SyncTag is the only background sync tag handled.
	SyncTag string
	// SyncURL is the default submission target for pending submissions.
	SyncURL string

	// Storage holds the cache generations (required).
	Storage cachestore.Storage
	// Fetcher reaches the network (required).
	Fetcher network.Fetcher
	// Outbox holds pending sync submissions. Defaults to an in-memory store.
	Outbox outbox.Store
	// Notifier shows notifications. Defaults to a notify.Center.
	Notifier notify.Notifier
	// Clients controls pages. Defaults to a ClientSet.
	Clients Clients

	// Batch configures precache and CACHE_URLS fetching.
	Batch batch.Config

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration derived from m. Storage and Fetcher
// must still be set.
func DefaultConfig(origin string, m *manifest.Manifest) Config {
	if m == nil {
		m = manifest.Default()
	}
	return Config{
		Origin:        origin,
		StaticCache:   m.StaticCache(),
		DynamicCache:  m.DynamicCache(),
		Precache:      append([]string(nil), m.URLs...),
		ExternalHosts: append([]string(nil), m.ExternalHosts...),
		FallbackURL:   "/index.html",
		SkipWaiting:   true,
		SyncTag:       "contact-form",
		SyncURL:       "/api/contact",
		Batch:         batch.DefaultConfig(),
	}
}

func (c *Config) validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if c.StaticCache == "" || c.DynamicCache == "" {
		return fmt.Errorf("static and dynamic cache identifiers are required")
	}
	if c.StaticCache == c.DynamicCache {
		return fmt.Errorf("static and dynamic cache identifiers must differ (both %q)", c.StaticCache)
	}
	if c.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	return nil
}
