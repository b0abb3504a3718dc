package cachestore

import (
	"net/http"
	"time"
)

// ResponseType classifies how a response relates to the requesting origin.
type ResponseType string

const (
	// TypeBasic is a same-origin response with readable headers and body.
	TypeBasic ResponseType = "basic"

	// TypeCORS is a cross-origin response the origin allowed us to read.
	TypeCORS ResponseType = "cors"

	// TypeOpaque is a cross-origin response fetched without CORS.
	TypeOpaque ResponseType = "opaque"
)

// Entry is a stored response snapshot.
type Entry struct {
	// Method and URL of the request the response answers
	Method string `json:"method"`
	URL    string `json:"url"`

	// StatusCode and Status of the stored response
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// Type is the response type at fetch time
	Type ResponseType `json:"type"`

	// StoredAt is when the snapshot was taken
	StoredAt time.Time `json:"stored_at"`
}

// Key returns the request key the entry is stored under.
func (e *Entry) Key() RequestKey {
	return RequestKey{Method: e.Method, URL: e.URL}
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Headers = e.Headers.Clone()
	if e.Data != nil {
		c.Data = append([]byte(nil), e.Data...)
	}
	return &c
}
