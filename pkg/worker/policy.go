package worker

import (
	"net/http"
	"strings"

	"github.com/Sternrassler/webpro-offline/pkg/cachestore"
	"github.com/Sternrassler/webpro-offline/pkg/network"
)

// intercepts reports whether req is served cache-first: a GET to the origin
// or to one of the external hosts.
func (m *Manager) intercepts(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	return network.SameOrigin(m.origin, req.URL) || m.isExternalHost(req.URL.Hostname())
}

// isExternalHost matches host against the external hosts, including subdomains.
func (m *Manager) isExternalHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range m.external {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// admits reports whether a network response may enter the dynamic cache:
// a GET answered 200 by the origin itself.
func admits(req *http.Request, resp *network.Response) bool {
	return req.Method == http.MethodGet &&
		resp.StatusCode == http.StatusOK &&
		resp.Type == cachestore.TypeBasic
}

// acceptsHTML reports whether the request asks for an HTML document.
func acceptsHTML(req *http.Request) bool {
	return strings.Contains(strings.Join(req.Header.Values("Accept"), ","), "text/html")
}
