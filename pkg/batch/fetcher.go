package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/network"
	"github.com/rs/zerolog/log"
)

// ErrUnexpectedStatus is returned when a fetched URL answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	MaxConcurrency int
	// Timeout per URL fetch, including reading the body.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration: six parallel fetches,
// matching a browser's per-host connection limit.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 6,
		Timeout:        30 * time.Second,
	}
}

// Fetcher fetches URL lists through a network.Fetcher.
type Fetcher struct {
	fetcher network.Fetcher
	config  Config
}

// NewFetcher creates a new batch fetcher.
func NewFetcher(fetcher network.Fetcher, config Config) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 6
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  config,
	}
}

type result struct {
	index int
	entry *cachestore.Entry
	err   error
}

// FetchAll GETs every URL and returns one entry per URL in input order.
// Any transport failure or non-2xx status fails the whole batch and no
// entries are returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []*url.URL) ([]*cachestore.Entry, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int, len(urls))
	for i := range urls {
		queue <- i
	}
	close(queue)

	workers := min(f.config.MaxConcurrency, len(urls))
	results := make(chan result, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, urls, queue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	entries := make([]*cachestore.Entry, len(urls))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				// Stop the remaining workers, the batch is lost.
				cancel()
			}
			continue
		}
		entries[r.index] = r.entry
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("urls", len(urls)).
			Dur("duration", time.Since(start)).
			Msg("Batch fetch failed")
		return nil, firstErr
	}

	for i, e := range entries {
		if e == nil {
			// Only reachable when the parent context was cancelled
			// between dequeue and fetch.
			return nil, fmt.Errorf("fetch %s: %w", urls[i], context.Cause(ctx))
		}
	}

	log.Debug().
		Int("urls", len(urls)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return entries, nil
}

// worker processes URL indexes from the queue.
func (f *Fetcher) worker(ctx context.Context, urls []*url.URL, queue <-chan int, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()

	for i := range queue {
		if ctx.Err() != nil {
			return
		}

		entry, err := f.fetchOne(ctx, urls[i])
		results <- result{index: i, entry: entry, err: err}
		if err != nil {
			return
		}
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, u *url.URL) (*cachestore.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, u, resp.StatusCode)
	}

	entry, err := cachestore.ResponseToEntry(req, resp.Response, resp.Type)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return entry, nil
}
