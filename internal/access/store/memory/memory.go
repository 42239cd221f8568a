// Package memory provides an in-memory implementation of the Access Policy
// read-model store, grounded on internal/catalog/store/memory's pattern.
package memory

import (
	"context"
	"sync"

	"github.com/bvandewe/agent-gateway/internal/access/store"
)

// Store is an in-memory implementation of store.Store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*store.PolicyDTO
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory access policy store.
func New() *Store {
	return &Store{policies: make(map[string]*store.PolicyDTO)}
}

func (s *Store) SavePolicy(ctx context.Context, dto *store.PolicyDTO) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[dto.ID] = dto
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*store.PolicyDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.policies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dto, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]*store.PolicyDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.PolicyDTO, 0, len(s.policies))
	for _, dto := range s.policies {
		if !dto.Deleted {
			out = append(out, dto)
		}
	}
	return out, nil
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.policies, id)
	return nil
}
