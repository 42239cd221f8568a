package eventstore

import (
	"context"
	"errors"
	"sync"
)

// Projection applies committed events to a read model keyed by aggregate id.
// Implementations must be idempotent: applying the same event twice (because
// a projector crashed mid-apply and resumed) must yield the same result.
// Projections never participate in write validation; they are queried by
// controllers only.
type Projection interface {
	// AggregateType reports which aggregate stream this projection consumes;
	// the Bus only routes matching events to it.
	AggregateType() string

	// Apply folds a single event into the read model. lastAppliedSeq is the
	// sequence number the projection had already applied for this aggregate
	// id (0 if none). The Bus skips events at or below that sequence before
	// calling Apply, so implementations need not check it themselves.
	Apply(ctx context.Context, evt Event, lastAppliedSeq int) error

	// LastAppliedSeq returns the sequence number last durably applied for
	// aggregateID, so a resumed projector knows where to continue.
	LastAppliedSeq(ctx context.Context, aggregateID string) (int, error)
}

// Bus fans committed events out to registered projections in a synchronous,
// fail-fast pattern, mirroring the runtime's in-process hook bus: subscribers
// are invoked in registration order and the first error halts the publish.
type Bus struct {
	mu           sync.RWMutex
	projections  []Projection
}

var _ Publisher = (*Bus)(nil)

// NewBus constructs an empty projection bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a projection to the bus. Not safe to call concurrently with
// Publish against the same bus in a way that requires the new registration to
// observe the in-flight batch; register all projections during startup.
func (b *Bus) Register(p Projection) error {
	if p == nil {
		return errors.New("eventstore: projection is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projections = append(b.projections, p)
	return nil
}

// Publish delivers events to every registered projection whose AggregateType
// matches, skipping events at or below the projection's last-applied
// sequence for that aggregate id (§4.4: "projector that crashed mid-apply
// resumes from last_applied_event_seq and re-applies").
func (b *Bus) Publish(ctx context.Context, events []Event) error {
	b.mu.RLock()
	projections := append([]Projection(nil), b.projections...)
	b.mu.RUnlock()

	for _, evt := range events {
		for _, p := range projections {
			if p.AggregateType() != evt.AggregateType {
				continue
			}
			last, err := p.LastAppliedSeq(ctx, evt.AggregateID)
			if err != nil {
				return err
			}
			if evt.Sequence <= last {
				continue
			}
			if err := p.Apply(ctx, evt, last); err != nil {
				return err
			}
		}
	}
	return nil
}
