package state

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[int64]map[string][]byte
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int64]map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, identity int64, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	v, ok := s.data[identity][field]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, identity int64, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	fields := s.data[identity]
	if fields == nil {
		fields = make(map[string][]byte)
		s.data[identity] = fields
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	fields[field] = stored
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, identity int64, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	fields := s.data[identity]
	delete(fields, field)
	if len(fields) == 0 {
		delete(s.data, identity)
	}
	return nil
}

// Fields implements Store.
func (s *MemoryStore) Fields(_ context.Context, identity int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	fields := s.data[identity]
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
