package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Attempts are kept per user in arrival
// order.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt
}

// NewMemoryStore creates an empty in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]Attempt)}
}

func (s *MemoryStore) Append(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if a.Score != nil {
		v := *a.Score
		cp.Score = &v
	}
	s.attempts[a.Username] = append(s.attempts[a.Username], cp)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, username string, since time.Time, limit int) ([]*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.attempts[username]
	var out []*Attempt
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Timestamp.Before(since) {
			continue
		}
		a := list[i]
		if a.Score != nil {
			v := *a.Score
			a.Score = &v
		}
		out = append(out, &a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.attempts[username])
	delete(s.attempts, username)
	return n, nil
}
