// Package outbox persists pending form submissions until a background sync
// delivers them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no submission is pending for a tag.
var ErrNotFound = errors.New("outbox: no pending submission")

// Submission is one pending request queued for background sync.
type Submission struct {
	Tag         string          `json:"tag"`
	URL         string          `json:"url"`
	Method      string          `json:"method"`
	ContentType string          `json:"contentType"`
	Body        json.RawMessage `json:"body"`
	QueuedAt    time.Time       `json:"queuedAt"`
}

// Store holds at most one pending submission per tag.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the submission for tag or ErrNotFound.
	Load(ctx context.Context, tag string) (*Submission, error)
	// Save stores s under s.Tag, replacing any previous submission.
	Save(ctx context.Context, s *Submission) error
	// Clear removes the submission for tag. Clearing a missing tag is not an error.
	Clear(ctx context.Context, tag string) error
}

func (s *Submission) clone() *Submission {
	c := *s
	c.Body = append(json.RawMessage(nil), s.Body...)
	return &c
}
