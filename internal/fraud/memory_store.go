package fraud

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-node demos.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // origin -> assessments
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assessments: make(map[string][]*Assessment)}
}

func (s *MemoryStore) Record(_ context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assessments[a.Origin] = append(s.assessments[a.Origin], &cp)
	return nil
}

// ListByOrigin returns the most recent assessments first.
func (s *MemoryStore) ListByOrigin(_ context.Context, origin string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[origin]
	if len(all) == 0 {
		return nil, nil
	}
	start := max(len(all)-limit, 0)

	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}
