// Package network provides the HTTP fetch facility used by the offline cache
// manager: response type classification, error classes and optional retry.
package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher performs a single network fetch.
//
// Only transport failures are returned as errors. HTTP error statuses are
// delivered as ordinary responses, the caller decides what they mean.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	return f(ctx, req)
}

// Response is an HTTP response annotated with its response type.
type Response struct {
	*http.Response
	Type cachestore.ResponseType
}

// Client is the network fetch client bound to one origin.
type Client struct {
	httpClient *http.Client
	origin     *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Origin is the scheme://host[:port] that counts as same-origin.
	Origin string

	// UserAgent is sent when the request carries none.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry applies to safe methods only (GET, HEAD, OPTIONS).
	Retry RetryConfig
}

// DefaultConfig returns a configuration that fetches once with a 30s timeout.
func DefaultConfig(origin string) Config {
	return Config{
		Origin:    origin,
		UserAgent: "webpro-offline/1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new network client.
func New(cfg Config) (*Client, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}

	origin, err := ParseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		origin:     origin,
		config:     cfg,
		logger:     log.With().Str("component", "network").Logger(),
	}, nil
}

// ParseOrigin parses and normalizes an origin URL, dropping any path.
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin must be absolute (got %q)", raw)
	}
	return &url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
	}, nil
}

// Origin returns a copy of the client's origin.
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Fetch performs the request against the network.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if out.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		out.Header.Set("User-Agent", c.config.UserAgent)
	}

	retryCfg := c.config.Retry
	if !isSafeMethod(out.Method) {
		retryCfg.MaxAttempts = 1
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(out.Method).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("method", out.Method).
		Str("url", out.URL.String()).
		Msg("Fetching from network")

	var resp *http.Response
	attempt := 0

	err := retryWithBackoff(ctx, retryCfg, c.logger, func() (ErrorClass, error) {
		attempt++
		var reqErr error
		resp, reqErr = c.httpClient.Do(out)
		if reqErr != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(out.Method, "network_error").Inc()
			return ErrorClassNetwork, &FetchError{
				Method:     out.Method,
				URL:        out.URL.String(),
				ErrorClass: ErrorClassNetwork,
				Err:        reqErr,
			}
		}

		requestsTotal.WithLabelValues(out.Method, strconv.Itoa(resp.StatusCode)).Inc()

		class := ClassifyStatus(resp.StatusCode)
		if class != "" {
			errorsTotal.WithLabelValues(string(class)).Inc()
		}

		// Retry a server error only while attempts remain, the last
		// response is handed to the caller as is.
		if class == ErrorClassServer && attempt < retryCfg.MaxAttempts {
			resp.Body.Close()
			return class, &FetchError{
				Method:     out.Method,
				URL:        out.URL.String(),
				StatusCode: resp.StatusCode,
				ErrorClass: class,
			}
		}
		return "", nil
	})
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("method", out.Method).
			Str("url", out.URL.String()).
			Msg("Network fetch failed")
		return nil, err
	}

	return &Response{Response: resp, Type: c.responseType(out, resp)}, nil
}

// responseType classifies resp relative to the client's origin. The final
// URL after redirects decides, so a same-origin request redirected away is
// no longer basic.
func (c *Client) responseType(req *http.Request, resp *http.Response) cachestore.ResponseType {
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if SameOrigin(c.origin, final) {
		return cachestore.TypeBasic
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "no-cors") {
		return cachestore.TypeOpaque
	}
	return cachestore.TypeCORS
}

// SameOrigin reports whether u shares scheme and host with origin.
func SameOrigin(origin, u *url.URL) bool {
	return strings.EqualFold(origin.Scheme, u.Scheme) && strings.EqualFold(origin.Host, u.Host)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
