package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Sternrassler/webpro-offline/internal/testutil"
	"github.com/Sternrassler/webpro-offline/pkg/network"
)

func newGet(t *testing.T, rawURL, accept string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest(%q) error = %v", rawURL, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func readBody(t *testing.T, resp *Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(body)
}

func TestFetch_MissPopulatesDynamicCache(t *testing.T) {
	f := newFixture(t, []string{"/", "/index.html"})
	f.activate(t)
	f.origin.Reset()

	resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/api/data", ""))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Source != SourceNetwork {
		t.Errorf("Source = %q, want miss", resp.Source)
	}
	if got := readBody(t, resp); got != "content of /api/data" {
		t.Errorf("body = %q, want content of /api/data", got)
	}

	settle(t, f.manager)

	if got := cachedPaths(t, f.storage, dynamicV1); !equalStrings(got, []string{"/api/data"}) {
		t.Errorf("dynamic cache = %v, want [/api/data]", got)
	}

	resp, err = f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/api/data", ""))
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if resp.Source != SourceCache {
		t.Errorf("second Source = %q, want hit", resp.Source)
	}
	if got := readBody(t, resp); got != "content of /api/data" {
		t.Errorf("second body = %q", got)
	}
	if got := f.origin.PathCount("/api/data"); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
}

func TestFetch_CacheFirst(t *testing.T) {
	f := newFixture(t, []string{"/", "/index.html", "/css/main.css"})
	f.activate(t)
	f.origin.Reset()

	for i := 0; i < 3; i++ {
		resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/css/main.css", ""))
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if resp.Source != SourceCache {
			t.Errorf("Source = %q, want hit", resp.Source)
		}
		if got := readBody(t, resp); got != "content of /css/main.css" {
			t.Errorf("body = %q", got)
		}
	}
	if got := f.origin.RequestCount(); got != 0 {
		t.Errorf("network calls for cached request = %d, want 0", got)
	}

	// A miss reaches the network exactly once.
	resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/js/new.js", ""))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()
	if got := f.origin.RequestCount(); got != 1 {
		t.Errorf("network calls for missing request = %d, want 1", got)
	}
}

func TestFetch_RelativeURL(t *testing.T) {
	f := newFixture(t, []string{"/index.html"})
	f.activate(t)

	resp, err := f.manager.Fetch(context.Background(), newGet(t, "/index.html", ""))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Source != SourceCache {
		t.Errorf("Source = %q, want hit", resp.Source)
	}
	resp.Body.Close()
}

func TestFetch_AdmissionPolicy(t *testing.T) {
	external := testutil.NewMockOrigin()
	defer external.Close()

	f := newFixture(t, []string{"/"}, func(c *Config) {
		// Mock servers share 127.0.0.1, so the external host matches by name
		// while staying cross-origin by port.
		c.ExternalHosts = []string{"127.0.0.1"}
	})
	f.origin.SetResponse("/not-found", testutil.MockResponse{StatusCode: 404, Body: "missing"})
	f.origin.SetResponse("/created", testutil.MockResponse{StatusCode: 201, Body: "created"})
	f.origin.SetHandler("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, external.URL()+"/landing", http.StatusFound)
	})
	f.origin.SetHandler("/local-redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing-local", http.StatusFound)
	})
	f.activate(t)

	tests := []struct {
		name   string
		req    func() *http.Request
		stored bool
	}{
		{
			name:   "same-origin 200",
			req:    func() *http.Request { return newGet(t, f.origin.URL()+"/api/items", "") },
			stored: true,
		},
		{
			name:   "same-origin redirect stays basic",
			req:    func() *http.Request { return newGet(t, f.origin.URL()+"/local-redirect", "") },
			stored: true,
		},
		{
			name: "non-200",
			req:  func() *http.Request { return newGet(t, f.origin.URL()+"/not-found", "") },
		},
		{
			name: "201 is not 200",
			req:  func() *http.Request { return newGet(t, f.origin.URL()+"/created", "") },
		},
		{
			name: "cross-origin cors",
			req:  func() *http.Request { return newGet(t, external.URL()+"/font.css", "") },
		},
		{
			name: "cross-origin opaque",
			req: func() *http.Request {
				r := newGet(t, external.URL()+"/font.woff2", "")
				r.Header.Set("Sec-Fetch-Mode", "no-cors")
				return r
			},
		},
		{
			name: "redirected cross-origin",
			req:  func() *http.Request { return newGet(t, f.origin.URL()+"/moved", "") },
		},
		{
			name: "post",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodPost, f.origin.URL()+"/api/items", nil)
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req()
			ctx := context.Background()

			before := len(cachedPaths(t, f.storage, dynamicV1))

			resp, err := f.manager.Fetch(ctx, req)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			readBody(t, resp)
			settle(t, f.manager)

			after := len(cachedPaths(t, f.storage, dynamicV1))
			if stored := after > before; stored != tt.stored {
				t.Errorf("stored = %v, want %v", stored, tt.stored)
			}
		})
	}
}

func TestFetch_ExternalHostIsInterceptedFromCache(t *testing.T) {
	fonts := testutil.NewMockOrigin()
	defer fonts.Close()

	f := newFixture(t, []string{"/", fonts.URL() + "/css2?family=Inter"}, func(c *Config) {
		c.ExternalHosts = []string{"127.0.0.1"}
	})
	f.activate(t)
	fonts.Reset()

	resp, err := f.manager.Fetch(context.Background(), newGet(t, fonts.URL()+"/css2?family=Inter", "text/css"))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Source != SourceCache {
		t.Errorf("Source = %q, want hit for precached font stylesheet", resp.Source)
	}
	resp.Body.Close()
	if got := fonts.RequestCount(); got != 0 {
		t.Errorf("font host calls = %d, want 0", got)
	}
}

func TestFetch_UnlistedCrossOriginPassesThrough(t *testing.T) {
	other := testutil.NewMockOrigin()
	defer other.Close()

	f := newFixture(t, []string{"/"}, func(c *Config) { c.ExternalHosts = []string{"fonts.googleapis.com"} })
	f.activate(t)

	for i := 0; i < 2; i++ {
		resp, err := f.manager.Fetch(context.Background(), newGet(t, other.URL()+"/widget.js", ""))
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if resp.Source != SourcePassthrough {
			t.Errorf("Source = %q, want bypass", resp.Source)
		}
		resp.Body.Close()
	}
	if got := other.PathCount("/widget.js"); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestIsExternalHost(t *testing.T) {
	f := newFixture(t, []string{"/"})

	tests := []struct {
		host string
		want bool
	}{
		{"fonts.googleapis.com", true},
		{"FONTS.googleapis.com", true},
		{"eu.fonts.googleapis.com", true},
		{"googleapis.com", false},
		{"evilfonts.googleapis.com.example", false},
		{"fonts.gstatic.com", false},
	}

	for _, tt := range tests {
		if got := f.manager.isExternalHost(tt.host); got != tt.want {
			t.Errorf("isExternalHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestFetch_OfflineFallback(t *testing.T) {
	f := newFixture(t, []string{"/", "/index.html"})
	f.activate(t)
	f.origin.SetOffline(true)

	t.Run("html navigation gets root document", func(t *testing.T) {
		resp, err := f.manager.Fetch(context.Background(),
			newGet(t, f.origin.URL()+"/some/page", "text/html,application/xhtml+xml"))
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if resp.Source != SourceFallback {
			t.Errorf("Source = %q, want fallback", resp.Source)
		}
		if got := readBody(t, resp); got != "content of /index.html" {
			t.Errorf("body = %q, want the cached root document", got)
		}
	})

	t.Run("non-html request fails", func(t *testing.T) {
		resp, err := f.manager.Fetch(context.Background(),
			newGet(t, f.origin.URL()+"/css/missing.css", "text/css,*/*;q=0.1"))
		if err == nil {
			resp.Body.Close()
			t.Fatal("Fetch() error = nil, want network failure")
		}
		if !network.IsNetworkError(err) {
			t.Errorf("Fetch() error = %v, want network error", err)
		}
	})

	t.Run("cached entries still served", func(t *testing.T) {
		resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/", "text/html"))
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if resp.Source != SourceCache {
			t.Errorf("Source = %q, want hit", resp.Source)
		}
		resp.Body.Close()
	})
}

func TestFetch_NoFallbackWithoutRootDocument(t *testing.T) {
	f := newFixture(t, []string{"/"})
	f.activate(t)
	f.origin.SetOffline(true)

	_, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/some/page", "text/html"))
	if !network.IsNetworkError(err) {
		t.Errorf("Fetch() error = %v, want network error", err)
	}
}

func TestFetch_PassthroughBeforeActivation(t *testing.T) {
	f := newFixture(t, []string{"/"})

	resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/api/data", ""))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Source != SourcePassthrough {
		t.Errorf("Source = %q, want bypass", resp.Source)
	}
	resp.Body.Close()
	settle(t, f.manager)

	if has, _ := f.storage.Has(context.Background(), dynamicV1); has {
		t.Error("dynamic cache created before activation")
	}
}

func TestFetch_CancelledRequestStillStores(t *testing.T) {
	f := newFixture(t, []string{"/"})
	f.activate(t)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := f.manager.Fetch(ctx, newGet(t, f.origin.URL()+"/api/late", ""))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// The page goes away right after the response arrives.
	cancel()
	resp.Body.Close()

	settle(t, f.manager)

	if got := cachedPaths(t, f.storage, dynamicV1); !equalStrings(got, []string{"/api/late"}) {
		t.Errorf("dynamic cache = %v, want [/api/late]", got)
	}
}

func TestFetch_ConcurrentMissesSameKey(t *testing.T) {
	f := newFixture(t, []string{"/"})
	f.activate(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.manager.Fetch(context.Background(), newGet(t, f.origin.URL()+"/api/shared", ""))
			if err != nil {
				errs <- err
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Fetch() error = %v", err)
	}

	settle(t, f.manager)
	if got := cachedPaths(t, f.storage, dynamicV1); !equalStrings(got, []string{"/api/shared"}) {
		t.Errorf("dynamic cache = %v, want one entry", got)
	}
}

func TestFetch_ServerRequest(t *testing.T) {
	f := newFixture(t, []string{"/index.html"})
	f.activate(t)

	// Requests taken from an http.Server carry a RequestURI.
	req := httptest.NewRequest(http.MethodGet, f.origin.URL()+"/index.html", nil)
	resp, err := f.manager.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Source != SourceCache {
		t.Errorf("Source = %q, want hit", resp.Source)
	}
	resp.Body.Close()
}

func TestAcceptsHTML(t *testing.T) {
	tests := []struct {
		accept []string
		want   bool
	}{
		{[]string{"text/html"}, true},
		{[]string{"text/html,application/xhtml+xml,*/*;q=0.8"}, true},
		{[]string{"application/json", "text/html"}, true},
		{[]string{"*/*"}, false},
		{[]string{"text/css"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, "https://webpro.example/", nil)
		for _, a := range tt.accept {
			req.Header.Add("Accept", a)
		}
		if got := acceptsHTML(req); got != tt.want {
			t.Errorf("acceptsHTML(%v) = %v, want %v", tt.accept, got, tt.want)
		}
	}
}
