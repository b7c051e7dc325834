package suspension

import (
	"context"
	"sync"
	"time"
)

type key struct {
	ns      Namespace
	subject string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]Record
}

// NewMemoryStore creates an empty in-memory suspension store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key]Record)}
}

func (s *MemoryStore) Get(_ context.Context, ns Namespace, subject string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key{ns, subject}]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Put(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{r.Namespace, r.Subject}
	if cur, ok := s.records[k]; ok && cur.Until.After(r.Until) {
		return nil
	}
	s.records[k] = *r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ns Namespace, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{ns, subject}
	if _, ok := s.records[k]; !ok {
		return ErrNotFound
	}
	delete(s.records, k)
	return nil
}

func (s *MemoryStore) DeleteIfUntil(_ context.Context, ns Namespace, subject string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{ns, subject}
	cur, ok := s.records[k]
	if !ok || !cur.Until.Equal(until) {
		return false, nil
	}
	delete(s.records, k)
	return true, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if !r.Active(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
