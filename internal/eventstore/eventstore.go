// Package eventstore implements the Conversation Event Store (§4.4): durable,
// per-aggregate append-only event streams with optimistic concurrency,
// replay-to-reconstruct-state, and at-least-once publication to projections.
//
// Aggregates (Conversation, AgentDefinition, ConversationTemplate, Upstream
// Source, Source Tool, Tool Group, Access Policy) implement the Aggregate
// interface in their own packages; this package only knows how to persist
// and replay opaque event batches keyed by (aggregate_type, aggregate_id).
//
// The design follows the teacher's closed-event-variant guidance (DESIGN
// NOTES §9: "Implement aggregates as a state record plus a closed set of
// event variants; the apply operation is a switch over variants") rather
// than the Python original's class-hierarchy/decorator dispatch.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// Event is a single immutable, persisted domain event.
	Event struct {
		// AggregateType names the aggregate kind (e.g. "conversation").
		AggregateType string
		// AggregateID is the aggregate's identity within its type.
		AggregateID string
		// Sequence is the 1-based position of this event within the aggregate's
		// stream. post_commit_version = pre_commit_version + len(batch).
		Sequence int
		// Type is the domain event type (e.g. "message_added").
		Type string
		// Timestamp is when the event was produced.
		Timestamp time.Time
		// Payload is the canonical JSON encoding of the event-specific data.
		Payload json.RawMessage
		// Metadata carries causation/correlation context.
		Metadata EventMetadata
	}

	// EventMetadata carries optional causation context for an event.
	EventMetadata struct {
		UserID        string `json:"user_id,omitempty"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	// Aggregate is implemented by domain aggregates. Apply folds a single
	// event into the aggregate's in-memory state; it is used both for replay
	// (Load) and immediately after a successful commit (Append).
	Aggregate interface {
		// AggregateType returns the stable type name used to partition streams.
		AggregateType() string
		// ApplyEvent folds evt into the aggregate's state. It must be a pure
		// function of (state, evt): replaying the same events twice must
		// produce the same state.
		ApplyEvent(evt Event) error
	}

	// Factory constructs a zero-value aggregate for id, ready to have events
	// applied to it by Load.
	Factory func(id string) Aggregate

	// Publisher receives committed events for projection and notification.
	// Publish must be safe to call concurrently and should not block the
	// commit path on slow subscribers; implementations that need durability
	// guarantees track last_applied_event_seq themselves (see
	// Projection.LastAppliedSeq and Bus.Publish).
	Publisher interface {
		Publish(ctx context.Context, events []Event) error
	}

	// Store is the append-only, optimistic-concurrency persistence layer for
	// aggregate event streams.
	Store interface {
		// Load replays all events for (aggregateType, id) in order into a
		// fresh aggregate built by factory. Returns ErrNotFound when the
		// aggregate has no events. currentVersion is len(events).
		Load(ctx context.Context, aggregateType, id string, factory Factory) (agg Aggregate, currentVersion int, err error)

		// Append commits newEvents atomically, assigning sequence numbers
		// starting at expectedVersion+1. Returns ErrConcurrencyConflict if
		// expectedVersion does not match the latest persisted version.
		Append(ctx context.Context, aggregateType, id string, expectedVersion int, newEvents []NewEvent) ([]Event, error)
	}

	// NewEvent is a not-yet-persisted event produced by a domain command.
	NewEvent struct {
		Type     string
		Payload  json.RawMessage
		Metadata EventMetadata
	}
)

// ErrNotFound indicates the aggregate has no persisted events.
var ErrNotFound = errors.New("eventstore: aggregate not found")

// ErrConcurrencyConflict indicates the expected version did not match the
// latest persisted version at commit time (§4.4 write path step 3).
type ErrConcurrencyConflict struct {
	AggregateType  string
	AggregateID    string
	Expected       int
	ActualLatest   int
}

func (e *ErrConcurrencyConflict) Error() string {
	return fmt.Sprintf("eventstore: concurrency conflict on %s/%s: expected version %d, latest is %d",
		e.AggregateType, e.AggregateID, e.Expected, e.ActualLatest)
}

// Is allows errors.Is(err, eventstore.ErrConcurrencyConflictSentinel) checks
// without requiring callers to inspect fields.
func (e *ErrConcurrencyConflict) Is(target error) bool {
	_, ok := target.(*ErrConcurrencyConflict)
	return ok
}

// ErrConcurrencyConflictSentinel is a zero-value conflict usable with errors.Is.
var ErrConcurrencyConflictSentinel = &ErrConcurrencyConflict{}

// Marshal is a small helper for encoding event payloads; domain packages use
// it so every call site produces the same canonical JSON.
func Marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("eventstore: marshal event payload: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an event payload into v.
func Unmarshal(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("eventstore: unmarshal event payload: %w", err)
	}
	return nil
}

// Fold applies events in order to agg, matching the Load replay contract.
func Fold(agg Aggregate, events []Event) error {
	for _, evt := range events {
		if err := agg.ApplyEvent(evt); err != nil {
			return fmt.Errorf("eventstore: apply event %d (%s) to %s/%s: %w",
				evt.Sequence, evt.Type, evt.AggregateType, evt.AggregateID, err)
		}
	}
	return nil
}
