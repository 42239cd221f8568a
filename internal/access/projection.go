package access

import (
	"context"

	"github.com/bvandewe/agent-gateway/internal/access/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// PolicyProjection maintains store.PolicyDTO from access_policy events
// (§4.4 "Read path (projections)"), grounded on the same
// get-or-create/switch-on-event-type/save shape as
// internal/catalog.SourceProjection.
type PolicyProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*PolicyProjection)(nil)

// NewPolicyProjection constructs a projection writing into s.
func NewPolicyProjection(s store.Store) *PolicyProjection { return &PolicyProjection{store: s} }

func (p *PolicyProjection) AggregateType() string { return PolicyAggregateType }

func (p *PolicyProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetPolicy(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *PolicyProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetPolicy(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.PolicyDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case PolicyEventCreated, PolicyEventUpdated:
		var payload policyPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Name = payload.Name
		dto.Matchers = payload.Matchers
		dto.AllowedGroupIDs = payload.AllowedGroupIDs
		dto.Priority = payload.Priority
		if evt.Type == PolicyEventCreated {
			dto.Active = true
		}
	case PolicyEventActiveSet:
		var payload policyActivePayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Active = payload.Active
	case PolicyEventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SavePolicy(ctx, dto)
}

// StoreLoader implements PolicyLoader on top of the read-model store,
// converting each non-deleted PolicyDTO into the domain Policy shape
// ResolveAllowedGroups consumes.
type StoreLoader struct {
	store store.Store
}

var _ PolicyLoader = (*StoreLoader)(nil)

// NewStoreLoader constructs a PolicyLoader backed by s.
func NewStoreLoader(s store.Store) *StoreLoader { return &StoreLoader{store: s} }

// ListActivePolicies implements PolicyLoader.
func (l *StoreLoader) ListActivePolicies(ctx context.Context) ([]*Policy, error) {
	dtos, err := l.store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(dtos))
	for _, dto := range dtos {
		if !dto.Active {
			continue
		}
		out = append(out, &Policy{
			Name:            dto.Name,
			Matchers:        dto.Matchers,
			AllowedGroupIDs: dto.AllowedGroupIDs,
			Priority:        dto.Priority,
			Active:          dto.Active,
			Deleted:         dto.Deleted,
		})
	}
	return out, nil
}
