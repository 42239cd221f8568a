package eventstore

import (
	"context"
	"sync"
)

// Repository wraps a Store with the generic load-execute-commit-publish
// cycle (§4.4 write path) for a single aggregate type T, so callers write a
// command handler as a function from (aggregate) -> ([]NewEvent, error)
// instead of repeating Load/Append/Publish plumbing at every call site (§9
// design notes: "a command handler is a function from (context, command) ->
// Result<response, error_kind>; no class hierarchy required").
type Repository[T Aggregate] struct {
	store     Store
	publisher Publisher
	aggType   string
	factory   func(id string) T

	// locks serializes in-process writers per aggregate id for the duration
	// of load→execute→commit; cross-process concurrency is resolved by the
	// store's optimistic check (§5 "Aggregate in-flight locks").
	locks sync.Map // aggregate id -> *sync.Mutex
}

// NewRepository constructs a Repository for aggregate type aggType, using
// factory to build a zero-value T for replay. publisher may be nil to skip
// projection/notification fan-out (useful in tests).
func NewRepository[T Aggregate](store Store, publisher Publisher, aggType string, factory func(id string) T) *Repository[T] {
	return &Repository[T]{store: store, publisher: publisher, aggType: aggType, factory: factory}
}

// Load replays id's event stream into a fresh T, returning its current
// version (0 and ErrNotFound when the aggregate has never been committed).
func (r *Repository[T]) Load(ctx context.Context, id string) (T, int, error) {
	agg, version, err := r.store.Load(ctx, r.aggType, id, func(id string) Aggregate { return r.factory(id) })
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return agg.(T), version, nil
}

// New returns a fresh, not-yet-persisted T ready to receive its first
// command (e.g. a "created" event).
func (r *Repository[T]) New(id string) T {
	return r.factory(id)
}

// Execute loads id (or starts fresh when mustExist is false and the
// aggregate is not found), invokes fn to produce new events, and commits
// them with optimistic concurrency. On success, agg has already had every
// new event applied (via Append's caller re-folding, see below) so callers
// can inspect post-command state immediately.
func (r *Repository[T]) Execute(ctx context.Context, id string, mustExist bool, fn func(agg T) ([]NewEvent, error)) (T, []Event, error) {
	muAny, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	agg, version, err := r.Load(ctx, id)
	if err != nil {
		if err != ErrNotFound || mustExist {
			var zero T
			return zero, nil, err
		}
		agg = r.factory(id)
		version = 0
	}

	newEvents, err := fn(agg)
	if err != nil {
		return agg, nil, err
	}
	if len(newEvents) == 0 {
		return agg, nil, nil
	}

	committed, err := r.store.Append(ctx, r.aggType, id, version, newEvents)
	if err != nil {
		return agg, nil, err
	}
	if err := Fold(agg, committed); err != nil {
		return agg, nil, err
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, committed); err != nil {
			return agg, committed, err
		}
	}
	return agg, committed, nil
}
