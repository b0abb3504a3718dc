package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	m := Default()

	if err := m.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if got := len(m.URLs); got != 12 {
		t.Errorf("len(URLs) = %d, want 12", got)
	}
	if m.StaticCache() != "webpro-static-v1.0.0" {
		t.Errorf("StaticCache() = %q, want webpro-static-v1.0.0", m.StaticCache())
	}
	if m.DynamicCache() != "webpro-dynamic-v1.0.0" {
		t.Errorf("DynamicCache() = %q, want webpro-dynamic-v1.0.0", m.DynamicCache())
	}
	if len(m.ExternalHosts) != 1 || m.ExternalHosts[0] != "fonts.googleapis.com" {
		t.Errorf("ExternalHosts = %v, want [fonts.googleapis.com]", m.ExternalHosts)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
prefix: shop
version: 2.1.0
urls:
  - /
  - /app.js
externalHosts:
  - cdn.example.net
`)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.StaticCache() != "shop-static-v2.1.0" {
		t.Errorf("StaticCache() = %q, want shop-static-v2.1.0", m.StaticCache())
	}
	if len(m.URLs) != 2 || m.URLs[1] != "/app.js" {
		t.Errorf("URLs = %v, want [/ /app.js]", m.URLs)
	}
	if len(m.ExternalHosts) != 1 || m.ExternalHosts[0] != "cdn.example.net" {
		t.Errorf("ExternalHosts = %v", m.ExternalHosts)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not yaml", data: "prefix: [unterminated"},
		{name: "missing prefix", data: "version: 1.0.0"},
		{name: "missing version", data: "prefix: webpro"},
		{name: "empty url", data: "prefix: a\nversion: b\nurls: ['']"},
		{name: "host with scheme", data: "prefix: a\nversion: b\nexternalHosts: ['https://fonts.googleapis.com']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("Parse() error = %v, want ErrInvalidManifest", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte("prefix: webpro\nversion: 1.0.1\nurls: [/]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.DynamicCache() != "webpro-dynamic-v1.0.1" {
		t.Errorf("DynamicCache() = %q, want webpro-dynamic-v1.0.1", m.DynamicCache())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}
