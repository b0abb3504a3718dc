package batch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/network"
)

func newNetworkClient(t *testing.T, origin string) *network.Client {
	t.Helper()
	client, err := network.New(network.DefaultConfig(origin))
	if err != nil {
		t.Fatalf("network.New() error = %v", err)
	}
	return client
}

func mustURLs(t *testing.T, base string, paths ...string) []*url.URL {
	t.Helper()
	urls := make([]*url.URL, 0, len(paths))
	for _, p := range paths {
		u, err := url.Parse(base + p)
		if err != nil {
			t.Fatalf("url.Parse(%q) error = %v", base+p, err)
		}
		urls = append(urls, u)
	}
	return urls
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(nil, Config{})

	if f.config.MaxConcurrency != 6 {
		t.Errorf("MaxConcurrency = %d, want 6", f.config.MaxConcurrency)
	}
	if f.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", f.config.Timeout)
	}
}

func TestFetchAll_PreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Later paths answer faster so completion order differs from input order.
		if r.URL.Path == "/a" {
			time.Sleep(20 * time.Millisecond)
		}
		w.Write([]byte("body of " + r.URL.Path))
	}))
	defer server.Close()

	f := NewFetcher(newNetworkClient(t, server.URL), DefaultConfig())
	urls := mustURLs(t, server.URL, "/a", "/b", "/c", "/d")

	entries, err := f.FetchAll(context.Background(), urls)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(entries) != len(urls) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(urls))
	}

	for i, e := range entries {
		if e.URL != urls[i].String() {
			t.Errorf("entries[%d].URL = %q, want %q", i, e.URL, urls[i].String())
		}
		if want := "body of " + urls[i].Path; string(e.Data) != want {
			t.Errorf("entries[%d].Data = %q, want %q", i, e.Data, want)
		}
		if e.Type != cachestore.TypeBasic {
			t.Errorf("entries[%d].Type = %q, want basic", i, e.Type)
		}
	}
}

func TestFetchAll_NonSuccessFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.css" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(newNetworkClient(t, server.URL), DefaultConfig())
	urls := mustURLs(t, server.URL, "/", "/missing.css", "/main.js")

	entries, err := f.FetchAll(context.Background(), urls)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("FetchAll() error = %v, want ErrUnexpectedStatus", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil on failure", entries)
	}
}

func TestFetchAll_NetworkFailureFailsBatch(t *testing.T) {
	fetcher := network.FetcherFunc(func(ctx context.Context, req *http.Request) (*network.Response, error) {
		return nil, &network.FetchError{
			Method:     req.Method,
			URL:        req.URL.String(),
			ErrorClass: network.ErrorClassNetwork,
			Err:        errors.New("offline"),
		}
	})

	f := NewFetcher(fetcher, DefaultConfig())
	entries, err := f.FetchAll(context.Background(), mustURLs(t, "https://example.com", "/", "/index.html"))

	if !network.IsNetworkError(err) {
		t.Errorf("FetchAll() error = %v, want network error", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestFetchAll_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(newNetworkClient(t, server.URL), Config{MaxConcurrency: 2, Timeout: time.Second})
	urls := mustURLs(t, server.URL, "/1", "/2", "/3", "/4", "/5", "/6")

	if _, err := f.FetchAll(context.Background(), urls); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	f := NewFetcher(nil, DefaultConfig())

	entries, err := f.FetchAll(context.Background(), nil)
	if err != nil {
		t.Errorf("FetchAll(nil) error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestFetchAll_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(newNetworkClient(t, server.URL), DefaultConfig())
	entries, err := f.FetchAll(ctx, mustURLs(t, server.URL, "/a", "/b"))
	if err == nil {
		t.Error("FetchAll() error = nil, want cancellation error")
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}
