package cache

import (
	"context"
	"fmt"
	"sync"

	"httpcat/internal/core"
)

// MemoryStore keeps cats in process memory.
// Data does not survive restarts; use it for tests and throwaway runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[core.StatusCode]*core.MediaRef
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[core.StatusCode]*core.MediaRef),
	}
}

// Get retrieves one cat.
func (s *MemoryStore) Get(_ context.Context, status core.StatusCode) (*core.MediaRef, error) {
	s.mu.RLock()
	ref, ok := s.items[status]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	return ref.Clone(), nil
}

// Put stores a cat, overwriting any previous value.
func (s *MemoryStore) Put(_ context.Context, status core.StatusCode, ref *core.MediaRef) error {
	if ref == nil {
		return fmt.Errorf("media ref is nil")
	}
	s.mu.Lock()
	s.items[status] = ref.Clone()
	s.mu.Unlock()
	return nil
}

// List returns all cats ordered by status.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.items))
	for status, ref := range s.items {
		entries = append(entries, Entry{Status: status, Ref: ref.Clone()})
	}
	s.mu.RUnlock()
	sortEntries(entries)
	return entries, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
