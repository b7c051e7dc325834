package license

import (
	"context"
	"sort"
	"sync"

	"github.com/SentinelX-Auth/SentinelX/internal/syncutil"
)

// MemoryStore is an in-memory Store. Updates to one token are serialized by
// a context-aware sharded lock, so a caller waiting on a busy token can give
// up when its context ends.
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]*License
	locks    *syncutil.KeyLock
}

// NewMemoryStore creates an empty in-memory license store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]*License),
		locks:    &syncutil.KeyLock{},
	}
}

func (s *MemoryStore) Create(_ context.Context, l *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[l.Token]; ok {
		return ErrDuplicateToken
	}
	s.licenses[l.Token] = l.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (*License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[token]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, token string, fn UpdateFunc) (*License, error) {
	unlock, err := s.locks.LockContext(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[token]; !ok {
		return nil, ErrNotFound // deleted while fn ran
	}
	s.licenses[token] = current.Clone()
	return current, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[token]; !ok {
		return ErrNotFound
	}
	delete(s.licenses, token)
	return nil
}

// List returns every license, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]*License, error) {
	s.mu.RLock()
	out := make([]*License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, l.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
