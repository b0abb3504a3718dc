package cachestore

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// RequestKey identifies a cached request.
type RequestKey struct {
	// Method is the upper-case HTTP method
	Method string

	// URL is the absolute request URL without fragment
	URL string
}

// String generates the storage form of the key.
// Format: METHOD SP URL
//
// Example:
//
//	GET https://webpro.example/css/main.css
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// KeyFor builds the key for an outgoing request.
func KeyFor(req *http.Request) RequestKey {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{
		Method: strings.ToUpper(method),
		URL:    NormalizeURL(req.URL),
	}
}

// KeyForURL builds a GET key for rawURL resolved against base.
func KeyForURL(base *url.URL, rawURL string) (RequestKey, error) {
	u, err := Resolve(base, rawURL)
	if err != nil {
		return RequestKey{}, err
	}
	return RequestKey{Method: http.MethodGet, URL: NormalizeURL(u)}, nil
}

// ParseKey parses the output of RequestKey.String.
func ParseKey(s string) (RequestKey, error) {
	method, rawURL, ok := strings.Cut(s, " ")
	if !ok || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("%w: malformed key %q", ErrInvalidEntry, s)
	}
	return RequestKey{Method: method, URL: rawURL}, nil
}

// Resolve resolves rawURL against base. Absolute URLs are returned as is.
func Resolve(base *url.URL, rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return u, nil
}

// NormalizeURL drops the fragment and lower-cases scheme and host.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	return c.String()
}

func sortKeys(keys []RequestKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
