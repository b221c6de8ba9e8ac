package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory ProgramStore. Revisions are retained in load
// order until the configured cap, oldest first to go.
type MemoryStore struct {
	mu        sync.RWMutex
	revisions map[string]*Revision
	order     []string
	cap       int
}

// NewMemoryStore creates a MemoryStore retaining at most cap revisions; a
// non-positive cap keeps everything.
func NewMemoryStore(cap int) *MemoryStore {
	return &MemoryStore{
		revisions: make(map[string]*Revision),
		cap:       cap,
	}
}

// Get retrieves a revision by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rev, ok := s.revisions[id]
	if !ok {
		return nil, fmt.Errorf("revision %s: %w", id, ErrNotFound)
	}
	return rev, nil
}

// Save stores a revision, evicting the oldest one past the cap.
func (s *MemoryStore) Save(_ context.Context, rev *Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.revisions[rev.ID]; dup {
		return fmt.Errorf("revision %s already stored", rev.ID)
	}
	s.revisions[rev.ID] = rev
	s.order = append(s.order, rev.ID)

	for s.cap > 0 && len(s.order) > s.cap {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.revisions, evicted)
	}
	return nil
}

// Latest returns the most recently saved revision.
func (s *MemoryStore) Latest(_ context.Context) (*Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, ErrNotFound
	}
	return s.revisions[s.order[len(s.order)-1]], nil
}

// List returns stored revision IDs in load order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
