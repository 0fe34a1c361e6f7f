package store

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory implementation of Store for testing and
// local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	sets   map[string]map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
	}
}

// Get returns the value at key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// Set writes the value at key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

// SetAdd adds member to the set at setKey.
func (s *MemoryStore) SetAdd(ctx context.Context, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[setKey]
	if !ok {
		set = make(map[string]struct{})
		s.sets[setKey] = set
	}
	set[member] = struct{}{}
	return nil
}

// SetRemove removes member from the set at setKey.
func (s *MemoryStore) SetRemove(ctx context.Context, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.sets[setKey]; ok {
		delete(set, member)
	}
	return nil
}

// SetMembers returns all members of the set at setKey.
func (s *MemoryStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.sets[setKey]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}
