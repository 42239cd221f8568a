// Package mongo provides a MongoDB implementation of the Access Policy
// read-model store, following the same pattern as
// internal/catalog/store/mongo and internal/conversation/store/mongo.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bvandewe/agent-gateway/internal/access/store"
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	policies *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New creates a MongoDB-backed Access Policy store from an already-opened
// collection.
func New(policies *mongo.Collection) *Store {
	return &Store{policies: policies}
}

func (s *Store) SavePolicy(ctx context.Context, dto *store.PolicyDTO) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.policies.ReplaceOne(ctx, bson.M{"_id": dto.ID}, dto, opts); err != nil {
		return fmt.Errorf("mongodb save policy %q: %w", dto.ID, err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*store.PolicyDTO, error) {
	var dto store.PolicyDTO
	if err := s.policies.FindOne(ctx, bson.M{"_id": id}).Decode(&dto); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get policy %q: %w", id, err)
	}
	return &dto, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]*store.PolicyDTO, error) {
	cursor, err := s.policies.Find(ctx, bson.M{"deleted": bson.M{"$ne": true}})
	if err != nil {
		return nil, fmt.Errorf("mongodb list policies: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []*store.PolicyDTO
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list policies decode: %w", err)
	}
	return docs, nil
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.policies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete policy %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
