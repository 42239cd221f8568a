// Package mongo provides a MongoDB implementation of the catalog read-model
// store, following the same replace-with-upsert pattern as the teacher's
// registry/store/mongo package, generalized across three collections
// (sources, tools, groups) instead of one.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
)

// Store is a MongoDB implementation of store.Store, backed by three
// collections supplied by the caller.
type Store struct {
	sources *mongo.Collection
	tools   *mongo.Collection
	groups  *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New creates a MongoDB-backed catalog store from already-opened collections.
func New(sources, tools, groups *mongo.Collection) *Store {
	return &Store{sources: sources, tools: tools, groups: groups}
}

func (s *Store) SaveSource(ctx context.Context, dto *store.SourceDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.sources.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save source %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, id string) (*store.SourceDTO, error) {
	var dto store.SourceDTO
	if err := s.sources.FindOne(ctx, bson.M{"_id": id}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get source %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListSources(ctx context.Context) ([]*store.SourceDTO, error) {
	cursor, err := s.sources.Find(ctx, bson.M{"deleted": bson.M{"$ne": true}})
	if err != nil {
		return nil, fmt.Errorf("mongodb list sources: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.SourceDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list sources decode: %w", err)
	}
	return docs, nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res, err := s.sources.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete source %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveTool(ctx context.Context, dto *store.ToolDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.tools.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save tool %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetTool(ctx context.Context, id string) (*store.ToolDTO, error) {
	var dto store.ToolDTO
	if err := s.tools.FindOne(ctx, bson.M{"_id": id}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get tool %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListTools(ctx context.Context, sourceID string) ([]*store.ToolDTO, error) {
	filter := bson.M{}
	if sourceID != "" {
		filter["source_id"] = sourceID
	}
	cursor, err := s.tools.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb list tools: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.ToolDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list tools decode: %w", err)
	}
	return docs, nil
}

func (s *Store) SearchTools(ctx context.Context, query string, tags []string) ([]*store.ToolDTO, error) {
	filter := bson.M{}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$all": tags}
	}
	if strings.TrimSpace(query) != "" {
		filter["$or"] = bson.A{
			bson.M{"tool_name": bson.M{"$regex": query, "$options": "i"}},
			bson.M{"description": bson.M{"$regex": query, "$options": "i"}},
		}
	}
	cursor, err := s.tools.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb search tools: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.ToolDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb search tools decode: %w", err)
	}
	return docs, nil
}

func (s *Store) DeleteTool(ctx context.Context, id string) error {
	res, err := s.tools.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete tool %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveGroup(ctx context.Context, dto *store.GroupDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.groups.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save group %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*store.GroupDTO, error) {
	var dto store.GroupDTO
	if err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get group %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*store.GroupDTO, error) {
	cursor, err := s.groups.Find(ctx, bson.M{"deleted": bson.M{"$ne": true}})
	if err != nil {
		return nil, fmt.Errorf("mongodb list groups: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.GroupDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list groups decode: %w", err)
	}
	return docs, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.groups.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete group %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
