// Package mongo provides a MongoDB implementation of the conversation
// read-model store, following the same replace-with-upsert pattern as
// internal/catalog/store/mongo (itself grounded on the teacher's
// registry/store/mongo), generalized across three collections
// (conversations, definitions, templates).
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bvandewe/agent-gateway/internal/conversation/store"
)

// Store is a MongoDB implementation of store.Store, backed by three
// collections supplied by the caller.
type Store struct {
	conversations *mongo.Collection
	definitions   *mongo.Collection
	templates     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New creates a MongoDB-backed conversation store from already-opened
// collections.
func New(conversations, definitions, templates *mongo.Collection) *Store {
	return &Store{conversations: conversations, definitions: definitions, templates: templates}
}

func (s *Store) SaveConversation(ctx context.Context, dto *store.ConversationDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.conversations.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save conversation %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.ConversationDTO, error) {
	var dto store.ConversationDTO
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id, "deleted": bson.M{"$ne": true}}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get conversation %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListConversations(ctx context.Context, ownerUserID string) ([]*store.ConversationDTO, error) {
	filter := bson.M{"deleted": bson.M{"$ne": true}}
	if ownerUserID != "" {
		filter["owner_user_id"] = ownerUserID
	}
	cursor, err := s.conversations.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb list conversations: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.ConversationDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list conversations decode: %w", err)
	}
	return docs, nil
}

// DeleteConversation marks the conversation soft-deleted rather than
// removing the document (§4.4 "Soft delete": "removes the aggregate from
// read-model queries; events are retained for audit").
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"deleted": true}})
	if err != nil {
		return fmt.Errorf("mongodb delete conversation %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveDefinition(ctx context.Context, dto *store.DefinitionDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.definitions.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save definition %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (*store.DefinitionDTO, error) {
	var dto store.DefinitionDTO
	if err := s.definitions.FindOne(ctx, bson.M{"_id": id, "deleted": bson.M{"$ne": true}}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get definition %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListDefinitions(ctx context.Context) ([]*store.DefinitionDTO, error) {
	cursor, err := s.definitions.Find(ctx, bson.M{"deleted": bson.M{"$ne": true}})
	if err != nil {
		return nil, fmt.Errorf("mongodb list definitions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.DefinitionDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list definitions decode: %w", err)
	}
	return docs, nil
}

func (s *Store) SaveTemplate(ctx context.Context, dto *store.TemplateDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.templates.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save template %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*store.TemplateDTO, error) {
	var dto store.TemplateDTO
	if err := s.templates.FindOne(ctx, bson.M{"_id": id, "deleted": bson.M{"$ne": true}}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get template %q: %w", id, err)
	}
	return &dto, nil
}
