package blob

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	blobs map[string][]byte

	mu sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

func (s *MemoryStore) Put(ctx context.Context, b []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	hash := Hash(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = append([]byte(nil), b...)
	}
	return hash, nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.blobs)
}

var _ Store = &MemoryStore{}
