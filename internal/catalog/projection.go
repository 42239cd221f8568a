package catalog

import (
	"context"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// SourceProjection maintains store.SourceDTO from upstream_source events
// (§4.4 "Read path (projections)").
type SourceProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*SourceProjection)(nil)

// NewSourceProjection constructs a projection writing into store.
func NewSourceProjection(s store.Store) *SourceProjection { return &SourceProjection{store: s} }

func (p *SourceProjection) AggregateType() string { return SourceAggregateType }

func (p *SourceProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetSource(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *SourceProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetSource(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.SourceDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case SourceEventRegistered:
		var payload sourceRegisteredPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Name, dto.Kind, dto.BaseURL, dto.SpecURL = payload.Name, payload.Kind, payload.BaseURL, payload.SpecURL
		dto.AuthMode, dto.DefaultAudience, dto.RequiredScopes = payload.AuthMode, payload.DefaultAudience, payload.RequiredScopes
		dto.Plugin = payload.Plugin
		dto.Enabled = true
	case SourceEventRefreshed:
		var payload sourceRefreshedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.InventoryHash = payload.InventoryHash
		dto.ToolCount = payload.ToolCount
		dto.LastSyncAt = evt.Timestamp
	case SourceEventHealthChanged:
		var payload sourceHealthChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Health = payload.Health
	case SourceEventEnabledChanged:
		var payload sourceEnabledChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Enabled = payload.Enabled
	case SourceEventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveSource(ctx, dto)
}

// ToolProjection maintains store.ToolDTO from source_tool events.
type ToolProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*ToolProjection)(nil)

// NewToolProjection constructs a projection writing into store.
func NewToolProjection(s store.Store) *ToolProjection { return &ToolProjection{store: s} }

func (p *ToolProjection) AggregateType() string { return ToolAggregateType }

func (p *ToolProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetTool(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *ToolProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetTool(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.ToolDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case ToolEventDiscovered:
		var payload toolDiscoveredPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.SourceID, dto.SourceName = payload.SourceID, payload.SourceName
		dto.ToolName = payload.Definition.ToolName
		dto.Description = payload.Definition.Description
		dto.Definition = payload.Definition
		dto.Tags = payload.Definition.Tags
		dto.Status = ToolStatusActive
		dto.IsEnabled = true
	case ToolEventDefinitionUpdated:
		var payload toolDefinitionUpdatedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.ToolName = payload.Definition.ToolName
		dto.Description = payload.Definition.Description
		dto.Definition = payload.Definition
		dto.Tags = payload.Definition.Tags
	case ToolEventDeprecated:
		dto.Status = ToolStatusDeprecated
	case ToolEventRestored:
		dto.Status = ToolStatusActive
	case ToolEventEnabledChanged:
		var payload toolEnabledChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.IsEnabled = payload.Enabled
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveTool(ctx, dto)
}

// GroupProjection maintains store.GroupDTO from tool_group events.
type GroupProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*GroupProjection)(nil)

// NewGroupProjection constructs a projection writing into store.
func NewGroupProjection(s store.Store) *GroupProjection { return &GroupProjection{store: s} }

func (p *GroupProjection) AggregateType() string { return GroupAggregateType }

func (p *GroupProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetGroup(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *GroupProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetGroup(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.GroupDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case GroupEventCreated:
		var payload groupCreatedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Name, dto.Description = payload.Name, payload.Description
	case GroupEventSelectorsSet:
		var payload groupSelectorsPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Selectors = payload.Selectors
	case GroupEventIncludesSet:
		var payload groupListPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Includes = payload.Items
	case GroupEventExcludesSet:
		var payload groupListPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Excludes = payload.Items
	case GroupEventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveGroup(ctx, dto)
}
