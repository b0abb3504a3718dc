package cachestore

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseToEntry snapshots resp as the answer to req.
// The body is read in full and resp.Body is replaced by an independent reader
// over the same bytes, so the caller can still hand resp to its consumer.
func ResponseToEntry(req *http.Request, resp *http.Response, typ ResponseType) (*Entry, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	key := KeyFor(req)
	return &Entry{
		Method:     key.Method,
		URL:        key.URL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Data:       append([]byte(nil), body...),
		Type:       typ,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// EntryToResponse rebuilds an HTTP response from a stored entry.
// Every call returns a response with its own body reader.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	if entry == nil {
		return nil
	}

	status := entry.Status
	if status == "" {
		status = strconv.Itoa(entry.StatusCode) + " " + http.StatusText(entry.StatusCode)
	}

	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		Status:        status,
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}
