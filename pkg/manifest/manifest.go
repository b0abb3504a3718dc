// Package manifest describes the precache manifest and the cache generation
// identifiers derived from it.
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest fails validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// GoogleFontsStylesheet is the external font stylesheet precached by default.
const GoogleFontsStylesheet = "https://fonts.googleapis.com/css2?family=Inter:wght@100..900&family=JetBrains+Mono:wght@100..800&display=swap"

// Manifest is a versioned precache list.
type Manifest struct {
	// Prefix names the application in cache identifiers.
	Prefix string `yaml:"prefix"`
	// Version is bumped to invalidate every cached generation.
	Version string `yaml:"version"`
	// URLs are precached at install, relative to the origin or absolute.
	URLs []string `yaml:"urls"`
	// ExternalHosts are cross-origin hosts whose GET requests are served
	// cache-first like same-origin ones.
	ExternalHosts []string `yaml:"externalHosts"`
}

// Default returns the built-in manifest.
func Default() *Manifest {
	return &Manifest{
		Prefix:  "webpro",
		Version: "1.0.0",
		URLs: []string{
			"/",
			"/index.html",
			"/css/reset.css",
			"/css/variables.css",
			"/css/main.css",
			"/css/components.css",
			"/css/animations.css",
			"/js/utils.js",
			"/js/animations.js",
			"/js/components.js",
			"/js/main.js",
			GoogleFontsStylesheet,
		},
		ExternalHosts: []string{"fonts.googleapis.com"},
	}
}

// Load reads a YAML manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for usable identifiers and URLs.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Prefix == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	if m.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if strings.ContainsAny(m.Prefix+m.Version, " \t\n") {
		errs = append(errs, errors.New("prefix and version must not contain whitespace"))
	}
	for _, raw := range m.URLs {
		if _, err := url.Parse(raw); err != nil || raw == "" {
			errs = append(errs, fmt.Errorf("url %q is not valid", raw))
		}
	}
	for _, h := range m.ExternalHosts {
		if h == "" || strings.ContainsAny(h, "/:") {
			errs = append(errs, fmt.Errorf("external host %q must be a bare hostname", h))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	return nil
}

// StaticCache returns the static generation identifier, e.g. webpro-static-v1.0.0.
func (m *Manifest) StaticCache() string {
	return m.Prefix + "-static-v" + m.Version
}

// DynamicCache returns the dynamic generation identifier, e.g. webpro-dynamic-v1.0.0.
func (m *Manifest) DynamicCache() string {
	return m.Prefix + "-dynamic-v" + m.Version
}
