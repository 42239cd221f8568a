// Package memory provides an in-memory implementation of eventstore.Store.
//
// This implementation is suitable for development, testing, and single-node
// deployments where durability across restarts is not required. It follows
// the same shape as the teacher's registry/store/memory package: a mutex-
// guarded map with deep-enough copying that callers cannot mutate persisted
// state through returned slices.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

type streamKey struct {
	aggregateType string
	id            string
}

// Store is an in-memory implementation of eventstore.Store. Safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	streams map[streamKey][]eventstore.Event
}

var _ eventstore.Store = (*Store)(nil)

// New creates an empty in-memory event store.
func New() *Store {
	return &Store{streams: make(map[streamKey][]eventstore.Event)}
}

// Load replays all events for (aggregateType, id) into a fresh aggregate.
func (s *Store) Load(ctx context.Context, aggregateType, id string, factory eventstore.Factory) (eventstore.Aggregate, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}
	s.mu.RLock()
	events := append([]eventstore.Event(nil), s.streams[streamKey{aggregateType, id}]...)
	s.mu.RUnlock()

	if len(events) == 0 {
		return nil, 0, eventstore.ErrNotFound
	}
	agg := factory(id)
	if err := eventstore.Fold(agg, events); err != nil {
		return nil, 0, err
	}
	return agg, len(events), nil
}

// Append commits newEvents if expectedVersion matches the latest persisted
// version, otherwise returns *eventstore.ErrConcurrencyConflict.
func (s *Store) Append(ctx context.Context, aggregateType, id string, expectedVersion int, newEvents []eventstore.NewEvent) ([]eventstore.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(newEvents) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{aggregateType, id}
	existing := s.streams[key]
	if len(existing) != expectedVersion {
		return nil, &eventstore.ErrConcurrencyConflict{
			AggregateType: aggregateType,
			AggregateID:   id,
			Expected:      expectedVersion,
			ActualLatest:  len(existing),
		}
	}

	committed := make([]eventstore.Event, 0, len(newEvents))
	now := time.Now().UTC()
	for i, ne := range newEvents {
		committed = append(committed, eventstore.Event{
			AggregateType: aggregateType,
			AggregateID:   id,
			Sequence:      expectedVersion + i + 1,
			Type:          ne.Type,
			Timestamp:     now,
			Payload:       ne.Payload,
			Metadata:      ne.Metadata,
		})
	}
	s.streams[key] = append(existing, committed...)
	return committed, nil
}
