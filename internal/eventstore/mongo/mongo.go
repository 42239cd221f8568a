// Package mongo provides a MongoDB implementation of eventstore.Store.
//
// This implementation persists events to a single collection, one document
// per event, with a unique index on (aggregate_type, aggregate_id,
// sequence). Optimistic concurrency (§4.4 write path step 3) is enforced by
// relying on that unique index: an insert batch that collides with a
// concurrently-committed sequence fails with a duplicate-key error, which is
// reported to the caller as *eventstore.ErrConcurrencyConflict. This mirrors
// the teacher's registry/store/mongo package (replace-with-upsert for
// single-document aggregates); here the unit of storage is an event, not a
// snapshot, so the index takes the place of the teacher's compare-and-swap.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// Store is a MongoDB-backed implementation of eventstore.Store.
type Store struct {
	collection *mongo.Collection
}

var _ eventstore.Store = (*Store)(nil)

// eventDocument is the MongoDB document representation of a persisted event.
// Payload is stored as its canonical JSON text rather than decoded into BSON
// so the store never needs to know the shape of any aggregate's events.
type eventDocument struct {
	AggregateType   string `bson:"aggregate_type"`
	AggregateID     string `bson:"aggregate_id"`
	Sequence        int    `bson:"sequence"`
	Type            string `bson:"type"`
	TimestampUnixMs int64  `bson:"timestamp_unix_ms"`
	PayloadJSON     string `bson:"payload_json,omitempty"`
	UserID          string `bson:"user_id,omitempty"`
	CorrelationID   string `bson:"correlation_id,omitempty"`
}

// New creates a MongoDB-backed event store using the provided collection.
// EnsureIndexes should be called once at startup.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// EnsureIndexes creates the unique index that backs optimistic concurrency.
// Call once per process at startup; safe to call repeatedly (Mongo no-ops on
// an already-present equivalent index).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("aggregate_sequence_unique"),
	})
	if err != nil {
		return fmt.Errorf("mongodb ensure eventstore indexes: %w", err)
	}
	return nil
}

// Load replays all events for (aggregateType, id) in sequence order.
func (s *Store) Load(ctx context.Context, aggregateType, id string, factory eventstore.Factory) (eventstore.Aggregate, int, error) {
	filter := bson.M{"aggregate_type": aggregateType, "aggregate_id": id}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb load events for %s/%s: %w", aggregateType, id, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("mongodb decode events for %s/%s: %w", aggregateType, id, err)
	}
	if len(docs) == 0 {
		return nil, 0, eventstore.ErrNotFound
	}

	events := make([]eventstore.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, fromDocument(d))
	}

	agg := factory(id)
	if err := eventstore.Fold(agg, events); err != nil {
		return nil, 0, err
	}
	return agg, len(events), nil
}

// Append inserts newEvents starting at sequence expectedVersion+1. A
// duplicate-key error on the unique index indicates a concurrent writer won
// the race, surfaced as *eventstore.ErrConcurrencyConflict.
func (s *Store) Append(ctx context.Context, aggregateType, id string, expectedVersion int, newEvents []eventstore.NewEvent) ([]eventstore.Event, error) {
	if len(newEvents) == 0 {
		return nil, nil
	}

	committed, docs := buildDocuments(aggregateType, id, expectedVersion, newEvents)

	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}

	if _, err := s.collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			latest, latestErr := s.latestVersion(ctx, aggregateType, id)
			if latestErr != nil {
				return nil, fmt.Errorf("mongodb resolve conflict for %s/%s: %w", aggregateType, id, latestErr)
			}
			return nil, &eventstore.ErrConcurrencyConflict{
				AggregateType: aggregateType,
				AggregateID:   id,
				Expected:      expectedVersion,
				ActualLatest:  latest,
			}
		}
		return nil, fmt.Errorf("mongodb append events for %s/%s: %w", aggregateType, id, err)
	}
	return committed, nil
}

func (s *Store) latestVersion(ctx context.Context, aggregateType, id string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	var doc eventDocument
	err := s.collection.FindOne(ctx, bson.M{"aggregate_type": aggregateType, "aggregate_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Sequence, nil
}

func buildDocuments(aggregateType, id string, expectedVersion int, newEvents []eventstore.NewEvent) ([]eventstore.Event, []eventDocument) {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()
	committed := make([]eventstore.Event, 0, len(newEvents))
	docs := make([]eventDocument, 0, len(newEvents))
	for i, ne := range newEvents {
		seq := expectedVersion + i + 1
		committed = append(committed, eventstore.Event{
			AggregateType: aggregateType,
			AggregateID:   id,
			Sequence:      seq,
			Type:          ne.Type,
			Timestamp:     now,
			Payload:       ne.Payload,
			Metadata:      ne.Metadata,
		})
		docs = append(docs, eventDocument{
			AggregateType:   aggregateType,
			AggregateID:     id,
			Sequence:        seq,
			Type:            ne.Type,
			TimestampUnixMs: nowMs,
			PayloadJSON:     string(ne.Payload),
			UserID:          ne.Metadata.UserID,
			CorrelationID:   ne.Metadata.CorrelationID,
		})
	}
	return committed, docs
}

func fromDocument(d eventDocument) eventstore.Event {
	return eventstore.Event{
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		Sequence:      d.Sequence,
		Type:          d.Type,
		Timestamp:     time.UnixMilli(d.TimestampUnixMs).UTC(),
		Payload:       []byte(d.PayloadJSON),
		Metadata:      eventstore.EventMetadata{UserID: d.UserID, CorrelationID: d.CorrelationID},
	}
}
