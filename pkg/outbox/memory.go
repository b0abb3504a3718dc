package outbox

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps submissions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]*Submission
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]*Submission)}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, tag string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.pending[tag]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s *Submission) error {
	if s == nil || s.Tag == "" {
		return fmt.Errorf("submission tag is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[s.Tag] = s.clone()
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, tag)
	return nil
}
