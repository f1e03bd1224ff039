package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage. State does not
// survive a restart; intended for tests and ephemeral deployments.
type MemoryStore struct {
	logger *zap.Logger
	mu     sync.RWMutex
	data   map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.Named("store.memory"),
		data:   make(map[string][]byte),
	}
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set implements Store.Set
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete implements Store.Delete
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}
