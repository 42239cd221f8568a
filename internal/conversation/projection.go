package conversation

import (
	"context"

	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// ConversationProjection maintains store.ConversationDTO from conversation
// events (§4.4 "Read path (projections)").
type ConversationProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*ConversationProjection)(nil)

// NewConversationProjection constructs a projection writing into s.
func NewConversationProjection(s store.Store) *ConversationProjection {
	return &ConversationProjection{store: s}
}

func (p *ConversationProjection) AggregateType() string { return ConversationAggregateType }

func (p *ConversationProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetConversation(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *ConversationProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetConversation(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.ConversationDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case EventCreated:
		var payload createdPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.OwnerUserID = payload.OwnerUserID
		dto.AgentDefinitionID = payload.AgentDefinitionID
		dto.TemplateID = payload.TemplateID
		dto.Status = StatusPending
	case EventMessageAdded:
		var payload message
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Messages = append(dto.Messages, Message(payload))
		dto.Status = StatusActive
	case EventMessageCompleted:
		var payload messageCompletedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		if idx := findDTOMessage(dto, payload.MessageID); idx >= 0 {
			dto.Messages[idx].Content = payload.FullContent
			dto.Messages[idx].Status = MessageCompleted
		}
	case EventMessageFailed:
		var payload messageIDPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		if idx := findDTOMessage(dto, payload.MessageID); idx >= 0 {
			dto.Messages[idx].Status = MessageFailed
		}
	case EventToolCallAdded:
		var payload toolCallAddedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		if idx := findDTOMessage(dto, payload.MessageID); idx >= 0 {
			dto.Messages[idx].ToolCalls = append(dto.Messages[idx].ToolCalls, payload.Call)
		}
	case EventToolResultAdded:
		var payload toolResultAddedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Messages = append(dto.Messages, Message{
			ID: payload.MessageID, Role: RoleTool, CreatedAt: evt.Timestamp, Status: MessageCompleted,
			ToolResults: []ToolResult{payload.Result},
		})
	case EventClientActionRequested:
		var payload ClientAction
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.PendingAction = &payload
		dto.Status = StatusAwaitingResponse
	case EventClientActionResolved:
		dto.PendingAction = nil
		dto.Status = StatusActive
	case EventTemplateAdvanced:
		var payload templateAdvancedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.CurrentItemIndex = payload.ItemIndex
	case EventCleared:
		dto.Messages = nil
		dto.PendingAction = nil
		dto.CurrentItemIndex = 0
		dto.Status = StatusPending
	case EventCompleted:
		var payload completedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Summary = payload.Summary
		dto.Status = StatusCompleted
	case EventRenamed:
		var payload renamedPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Name = payload.Name
	case EventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveConversation(ctx, dto)
}

func findDTOMessage(dto *store.ConversationDTO, id string) int {
	for i := range dto.Messages {
		if dto.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// DefinitionProjection maintains store.DefinitionDTO from agent_definition
// events.
type DefinitionProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*DefinitionProjection)(nil)

// NewDefinitionProjection constructs a projection writing into s.
func NewDefinitionProjection(s store.Store) *DefinitionProjection {
	return &DefinitionProjection{store: s}
}

func (p *DefinitionProjection) AggregateType() string { return AgentDefinitionAggregateType }

func (p *DefinitionProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetDefinition(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *DefinitionProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetDefinition(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.DefinitionDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case DefinitionEventCreated, DefinitionEventUpdated:
		var payload definitionPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.OwnerID, dto.DisplayName, dto.Icon, dto.Description = payload.OwnerID, payload.DisplayName, payload.Icon, payload.Description
		dto.SystemPrompt, dto.AllowedToolIDs, dto.PreferredModelID = payload.SystemPrompt, payload.AllowedToolIDs, payload.PreferredModelID
		dto.TemplateID, dto.Access, dto.StopOnError = payload.TemplateID, payload.Access, payload.StopOnError
	case DefinitionEventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveDefinition(ctx, dto)
}

// TemplateProjection maintains store.TemplateDTO from conversation_template
// events.
type TemplateProjection struct {
	store store.Store
}

var _ eventstore.Projection = (*TemplateProjection)(nil)

// NewTemplateProjection constructs a projection writing into s.
func NewTemplateProjection(s store.Store) *TemplateProjection {
	return &TemplateProjection{store: s}
}

func (p *TemplateProjection) AggregateType() string { return TemplateAggregateType }

func (p *TemplateProjection) LastAppliedSeq(ctx context.Context, aggregateID string) (int, error) {
	dto, err := p.store.GetTemplate(ctx, aggregateID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return dto.LastAppliedSeq, nil
}

func (p *TemplateProjection) Apply(ctx context.Context, evt eventstore.Event, lastAppliedSeq int) error {
	dto, err := p.store.GetTemplate(ctx, evt.AggregateID)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		dto = &store.TemplateDTO{ID: evt.AggregateID}
	}
	switch evt.Type {
	case TemplateEventCreated, TemplateEventUpdated:
		var payload templatePayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		dto.Items = payload.Items
		dto.AgentStartsFirst = payload.AgentStartsFirst
		dto.AllowNavigation = payload.AllowNavigation
		dto.EnableChatInputInitially = payload.EnableChatInputInitially
		dto.DisplayProgressIndicator = payload.DisplayProgressIndicator
		dto.IncludeFeedback = payload.IncludeFeedback
		dto.DisplayFinalScoreReport = payload.DisplayFinalScoreReport
		dto.ContinueAfterCompletion = payload.ContinueAfterCompletion
		dto.PassingScorePercent = payload.PassingScorePercent
		dto.HasPassingScore = payload.HasPassingScore
		dto.IntroductionMessage = payload.IntroductionMessage
		dto.CompletionMessage = payload.CompletionMessage
	case TemplateEventDeleted:
		dto.Deleted = true
	}
	dto.Version = evt.Sequence
	dto.LastAppliedSeq = evt.Sequence
	return p.store.SaveTemplate(ctx, dto)
}
