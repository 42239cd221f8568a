// Package memory provides an in-memory implementation of the catalog
// read-model store, for development, testing, and single-node deployments.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
)

// Store is an in-memory implementation of store.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	sources map[string]*store.SourceDTO
	tools   map[string]*store.ToolDTO
	groups  map[string]*store.GroupDTO
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory catalog store.
func New() *Store {
	return &Store{
		sources: make(map[string]*store.SourceDTO),
		tools:   make(map[string]*store.ToolDTO),
		groups:  make(map[string]*store.GroupDTO),
	}
}

func (s *Store) SaveSource(ctx context.Context, dto *store.SourceDTO) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[dto.ID] = dto
	return nil
}

func (s *Store) GetSource(ctx context.Context, id string) (*store.SourceDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dto, nil
}

func (s *Store) ListSources(ctx context.Context) ([]*store.SourceDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.SourceDTO, 0, len(s.sources))
	for _, dto := range s.sources {
		if !dto.Deleted {
			out = append(out, dto)
		}
	}
	return out, nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

func (s *Store) SaveTool(ctx context.Context, dto *store.ToolDTO) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[dto.ID] = dto
	return nil
}

func (s *Store) GetTool(ctx context.Context, id string) (*store.ToolDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.tools[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dto, nil
}

func (s *Store) ListTools(ctx context.Context, sourceID string) ([]*store.ToolDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.ToolDTO, 0)
	for _, dto := range s.tools {
		if sourceID != "" && dto.SourceID != sourceID {
			continue
		}
		out = append(out, dto)
	}
	return out, nil
}

func (s *Store) SearchTools(ctx context.Context, query string, tags []string) ([]*store.ToolDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	out := make([]*store.ToolDTO, 0)
	for _, dto := range s.tools {
		if q != "" && !strings.Contains(strings.ToLower(dto.ToolName), q) && !strings.Contains(strings.ToLower(dto.Description), q) {
			continue
		}
		if !hasAllTags(dto.Tags, tags) {
			continue
		}
		out = append(out, dto)
	}
	return out, nil
}

func (s *Store) DeleteTool(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tools, id)
	return nil
}

func (s *Store) SaveGroup(ctx context.Context, dto *store.GroupDTO) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[dto.ID] = dto
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*store.GroupDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dto, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*store.GroupDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.GroupDTO, 0, len(s.groups))
	for _, dto := range s.groups {
		if !dto.Deleted {
			out = append(out, dto)
		}
	}
	return out, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
