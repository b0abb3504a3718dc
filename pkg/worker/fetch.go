package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
)

// Source tells where a fetch response came from.
type Source string

const (
	// SourceCache is a hit in one of the cache generations.
	SourceCache Source = "hit"
	// SourceNetwork is a cache miss answered by the network.
	SourceNetwork Source = "miss"
	// SourceFallback is the cached root document served to a failed navigation.
	SourceFallback Source = "fallback"
	// SourcePassthrough is a request the manager did not intercept.
	SourcePassthrough Source = "bypass"
)

// Response is a fetch response annotated with its source.
type Response struct {
	*http.Response
	Source Source
}

// Fetch handles one outgoing request from a controlled page.
//
// GET requests to the origin or an external host are served cache-first.
// A miss goes to the network once; a 200 basic response is copied into the
// dynamic generation in the background. When the network fails and the
// request accepts text/html, the cached root document is returned instead.
// Every other request passes through untouched, as do all requests while
// the manager is not active.
//
// req.URL may be relative to the origin.
func (m *Manager) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	req = m.absolute(req)

	if m.State() != StateActive || !m.intercepts(req) {
		fetchTotal.WithLabelValues(string(SourcePassthrough)).Inc()
		return m.passthrough(ctx, req)
	}

	key := cachestore.KeyFor(req)
	entry, err := m.storage.Match(ctx, key)
	switch {
	case err == nil:
		fetchTotal.WithLabelValues(string(SourceCache)).Inc()
		m.logger.Debug().Str("url", key.URL).Msg("Served from cache")
		return &Response{Response: cachestore.EntryToResponse(entry, req), Source: SourceCache}, nil
	case !errors.Is(err, cachestore.ErrCacheMiss):
		m.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache lookup failed, treating as miss")
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		if fb := m.offlineFallback(ctx, req); fb != nil {
			fetchTotal.WithLabelValues(string(SourceFallback)).Inc()
			m.logger.Info().
				Err(err).
				Str("url", key.URL).
				Msg("Network failed, serving offline fallback")
			return &Response{Response: fb, Source: SourceFallback}, nil
		}
		return nil, err
	}

	fetchTotal.WithLabelValues(string(SourceNetwork)).Inc()

	if admits(req, resp) {
		// Materialize the body once: the entry keeps its own copy and the
		// caller reads a fresh reader over the same bytes.
		entry, err := cachestore.ResponseToEntry(req, resp.Response, resp.Type)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		m.storeDynamic(ctx, entry)
	}

	return &Response{Response: resp.Response, Source: SourceNetwork}, nil
}

func (m *Manager) passthrough(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Response{Response: resp.Response, Source: SourcePassthrough}, nil
}

// offlineFallback returns the cached root document for HTML requests, or nil.
func (m *Manager) offlineFallback(ctx context.Context, req *http.Request) *http.Response {
	if ctx.Err() != nil || !acceptsHTML(req) {
		return nil
	}

	entry, err := m.storage.Match(ctx, m.fallback)
	if err != nil {
		if !errors.Is(err, cachestore.ErrCacheMiss) {
			m.logger.Warn().Err(err).Msg("Fallback lookup failed")
		}
		return nil
	}
	return cachestore.EntryToResponse(entry, req)
}

// storeDynamic writes entry to the dynamic generation as a background task.
// The write outlives the page request but not the manager.
func (m *Manager) storeDynamic(ctx context.Context, entry *cachestore.Entry) {
	m.spawn(context.WithoutCancel(ctx), "cache-put", func(ctx context.Context) error {
		dynamic, err := m.storage.Open(ctx, m.config.DynamicCache)
		if err == nil {
			err = dynamic.Put(ctx, entry)
		}
		if err != nil {
			dynamicWrites.WithLabelValues("error").Inc()
			return err
		}

		dynamicWrites.WithLabelValues("ok").Inc()
		m.logger.Debug().
			Str("cache", m.config.DynamicCache).
			Str("url", entry.URL).
			Msg("Stored in dynamic cache")
		return nil
	})
}

// absolute returns req with its URL resolved against the origin.
func (m *Manager) absolute(req *http.Request) *http.Request {
	if req.URL.IsAbs() {
		return req
	}
	out := req.Clone(req.Context())
	out.URL = m.origin.ResolveReference(req.URL)
	out.Host = out.URL.Host
	return out
}
