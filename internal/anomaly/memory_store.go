package anomaly

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory ProfileStore for tests and single-node demos.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string][]byte // identity -> encoded profile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, identity string) (*Profile, error) {
	s.mu.RLock()
	raw, ok := s.profiles[identity]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrProfileNotFound
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MemoryStore) Put(_ context.Context, p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles[p.Identity] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[identity]; !ok {
		return ErrProfileNotFound
	}
	delete(s.profiles, identity)
	return nil
}
