// Package memory provides an in-memory implementation of
// conversation/store.Store, the default test double per the teacher's
// convention of preferring fakes over mocked infrastructure.
package memory

import (
	"context"
	"sync"

	"github.com/bvandewe/agent-gateway/internal/conversation/store"
)

// Store is a mutex-guarded in-memory conversation read model.
type Store struct {
	mu           sync.RWMutex
	conversations map[string]*store.ConversationDTO
	definitions   map[string]*store.DefinitionDTO
	templates     map[string]*store.TemplateDTO
}

var _ store.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*store.ConversationDTO),
		definitions:   make(map[string]*store.DefinitionDTO),
		templates:     make(map[string]*store.TemplateDTO),
	}
}

func (s *Store) SaveConversation(ctx context.Context, dto *store.ConversationDTO) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dto
	s.conversations[dto.ID] = &cp
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.ConversationDTO, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.conversations[id]
	if !ok || dto.Deleted {
		return nil, store.ErrNotFound
	}
	cp := *dto
	return &cp, nil
}

func (s *Store) ListConversations(ctx context.Context, ownerUserID string) ([]*store.ConversationDTO, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.ConversationDTO, 0, len(s.conversations))
	for _, dto := range s.conversations {
		if dto.Deleted {
			continue
		}
		if ownerUserID != "" && dto.OwnerUserID != ownerUserID {
			continue
		}
		cp := *dto
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dto, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	dto.Deleted = true
	return nil
}

func (s *Store) SaveDefinition(ctx context.Context, dto *store.DefinitionDTO) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dto
	s.definitions[dto.ID] = &cp
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (*store.DefinitionDTO, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.definitions[id]
	if !ok || dto.Deleted {
		return nil, store.ErrNotFound
	}
	cp := *dto
	return &cp, nil
}

func (s *Store) ListDefinitions(ctx context.Context) ([]*store.DefinitionDTO, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.DefinitionDTO, 0, len(s.definitions))
	for _, dto := range s.definitions {
		if dto.Deleted {
			continue
		}
		cp := *dto
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SaveTemplate(ctx context.Context, dto *store.TemplateDTO) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dto
	s.templates[dto.ID] = &cp
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*store.TemplateDTO, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dto, ok := s.templates[id]
	if !ok || dto.Deleted {
		return nil, store.ErrNotFound
	}
	cp := *dto
	return &cp, nil
}
