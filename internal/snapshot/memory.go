package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by executions that do
// not need durability.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Snapshot
	clock func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: map[string]*Snapshot{},
		clock: time.Now,
	}
}

// Upsert stores the snapshot, preserving identity and creation time on
// overwrite.
func (s *MemoryStore) Upsert(_ context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.RequestID) == "" {
		return fmt.Errorf("snapshot: request id is required")
	}
	now := s.clock().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := snap.clone()
	stored.UpdatedAt = now
	if existing, ok := s.items[snap.RequestID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.items[snap.RequestID] = stored
	return nil
}

// Get returns the snapshot for a request id.
func (s *MemoryStore) Get(_ context.Context, requestID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.items[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return stored.clone(), nil
}

// Delete removes the snapshot for a request id.
func (s *MemoryStore) Delete(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[requestID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	delete(s.items, requestID)
	return nil
}
