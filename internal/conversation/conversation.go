// Package conversation implements the Conversation, Agent Definition, and
// Conversation Template aggregates (§3), the consistency boundary the
// Orchestrator (internal/orchestrator) mutates every turn.
package conversation

import (
	"time"

	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const ConversationAggregateType = "conversation"

// Event types for the Conversation aggregate.
const (
	EventCreated            = "conversation_created"
	EventMessageAdded        = "message_added"
	EventMessageCompleted    = "message_completed"
	EventMessageFailed       = "message_failed"
	EventToolCallAdded       = "tool_call_added"
	EventToolResultAdded     = "tool_result_added"
	EventClientActionRequested = "client_action_requested"
	EventClientActionResolved  = "client_action_resolved"
	EventTemplateAdvanced    = "template_advanced"
	EventCleared             = "conversation_cleared"
	EventCompleted           = "conversation_completed"
	EventDeleted             = "conversation_deleted"
	EventRenamed             = "conversation_renamed"
)

// Role, MessageStatus, Status, ToolCall, ToolResult, Message, and
// ClientAction live canonically in internal/conversation/store so that
// package can be a DTO-only leaf with no dependency on this package's
// aggregates; they are re-exported here as aliases.
type (
	Role          = store.Role
	MessageStatus = store.MessageStatus
	Status        = store.Status
	ToolCall      = store.ToolCall
	ToolResult    = store.ToolResult
	Message       = store.Message
	ClientAction  = store.ClientAction
)

const (
	RoleSystem    = store.RoleSystem
	RoleUser      = store.RoleUser
	RoleAssistant = store.RoleAssistant
	RoleTool      = store.RoleTool

	MessageInProgress = store.MessageInProgress
	MessageCompleted  = store.MessageCompleted
	MessageFailed     = store.MessageFailed

	StatusPending          = store.StatusPending
	StatusActive           = store.StatusActive
	StatusAwaitingResponse = store.StatusAwaitingResponse
	StatusCompleted        = store.StatusCompleted
)

// Conversation is the Conversation aggregate (§3).
type Conversation struct {
	id                string
	version           int
	OwnerUserID       string
	AgentDefinitionID string
	TemplateID        string
	CurrentItemIndex  int
	Messages          []Message
	Status            Status
	PendingAction     *ClientAction
	Summary           string
	Deleted           bool
	Name              string
}

var _ eventstore.Aggregate = (*Conversation)(nil)

// New constructs an empty Conversation ready for event replay or commands.
func New(id string) eventstore.Aggregate { return &Conversation{id: id} }

func (c *Conversation) ID() string      { return c.id }
func (c *Conversation) Version() int    { return c.version }
func (c *Conversation) AggregateType() string { return ConversationAggregateType }

func (c *Conversation) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case EventCreated:
		var p createdPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.OwnerUserID, c.AgentDefinitionID, c.TemplateID = p.OwnerUserID, p.AgentDefinitionID, p.TemplateID
		c.Status = StatusPending
	case EventMessageAdded:
		var p message
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.Messages = append(c.Messages, Message(p))
		c.Status = StatusActive
	case EventMessageCompleted:
		var p messageCompletedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		if idx := c.findMessage(p.MessageID); idx >= 0 {
			c.Messages[idx].Content = p.FullContent
			c.Messages[idx].Status = MessageCompleted
		}
	case EventMessageFailed:
		var p messageIDPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		if idx := c.findMessage(p.MessageID); idx >= 0 {
			c.Messages[idx].Status = MessageFailed
		}
	case EventToolCallAdded:
		var p toolCallAddedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		if idx := c.findMessage(p.MessageID); idx >= 0 {
			c.Messages[idx].ToolCalls = append(c.Messages[idx].ToolCalls, p.Call)
		}
	case EventToolResultAdded:
		var p toolResultAddedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.Messages = append(c.Messages, Message{
			ID: p.MessageID, Role: RoleTool, CreatedAt: evt.Timestamp, Status: MessageCompleted,
			ToolResults: []ToolResult{p.Result},
		})
	case EventClientActionRequested:
		var p ClientAction
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.PendingAction = &p
		c.Status = StatusAwaitingResponse
	case EventClientActionResolved:
		c.PendingAction = nil
		c.Status = StatusActive
	case EventTemplateAdvanced:
		var p templateAdvancedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.CurrentItemIndex = p.ItemIndex
	case EventCleared:
		c.Messages = nil
		c.PendingAction = nil
		c.CurrentItemIndex = 0
		c.Status = StatusPending
	case EventCompleted:
		var p completedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.Summary = p.Summary
		c.Status = StatusCompleted
	case EventRenamed:
		var p renamedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		c.Name = p.Name
	case EventDeleted:
		c.Deleted = true
	}
	c.version++
	return nil
}

func (c *Conversation) findMessage(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

type (
	createdPayload struct {
		OwnerUserID       string `json:"owner_user_id"`
		AgentDefinitionID string `json:"agent_definition_id,omitempty"`
		TemplateID        string `json:"template_id,omitempty"`
	}
	message struct {
		ID          string        `json:"id"`
		Role        Role          `json:"role"`
		Content     string        `json:"content"`
		CreatedAt   time.Time     `json:"created_at"`
		Status      MessageStatus `json:"status"`
		ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
		ToolResults []ToolResult  `json:"tool_results,omitempty"`
		MessageType string        `json:"message_type,omitempty"`
	}
	messageCompletedPayload struct {
		MessageID   string `json:"message_id"`
		FullContent string `json:"full_content"`
	}
	messageIDPayload struct {
		MessageID string `json:"message_id"`
	}
	toolCallAddedPayload struct {
		MessageID string   `json:"message_id"`
		Call      ToolCall `json:"call"`
	}
	toolResultAddedPayload struct {
		MessageID string     `json:"message_id"`
		Result    ToolResult `json:"result"`
	}
	templateAdvancedPayload struct {
		ItemIndex int `json:"item_index"`
	}
	completedPayload struct {
		Summary string `json:"summary"`
	}
	renamedPayload struct {
		Name string `json:"name"`
	}
)

// Create produces the creation event for a brand new conversation.
func Create(ownerUserID, agentDefinitionID, templateID string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(createdPayload{OwnerUserID: ownerUserID, AgentDefinitionID: agentDefinitionID, TemplateID: templateID})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventCreated, Payload: payload}, nil
}

// AddMessage appends a new message, validating invariant (1): the system
// message, if any, must be first (§3 invariant 1).
func (c *Conversation) AddMessage(id string, role Role, content string, status MessageStatus, createdAt time.Time) (eventstore.NewEvent, error) {
	if role == RoleSystem && len(c.Messages) > 0 {
		return eventstore.NewEvent{}, errkind.New(errkind.InvalidState, "system message must be first")
	}
	payload, err := eventstore.Marshal(message{ID: id, Role: role, Content: content, CreatedAt: createdAt, Status: status})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventMessageAdded, Payload: payload}, nil
}

// AppendVirtualMessage persists a virtual (intro/completion/report)
// assistant message (§9 SUPPLEMENTED FEATURES #2).
func (c *Conversation) AppendVirtualMessage(id, content, messageType string, createdAt time.Time) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(message{
		ID: id, Role: RoleAssistant, Content: content, CreatedAt: createdAt,
		Status: MessageCompleted, MessageType: messageType,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventMessageAdded, Payload: payload}, nil
}

// CompleteMessage finalizes an in-progress assistant message with its full
// accumulated content.
func (c *Conversation) CompleteMessage(messageID, fullContent string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(messageCompletedPayload{MessageID: messageID, FullContent: fullContent})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventMessageCompleted, Payload: payload}, nil
}

// FailMessage marks an in-progress message failed.
func (c *Conversation) FailMessage(messageID string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(messageIDPayload{MessageID: messageID})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventMessageFailed, Payload: payload}, nil
}

// AddToolCall attaches a tool call to an existing message.
func (c *Conversation) AddToolCall(messageID string, call ToolCall) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(toolCallAddedPayload{MessageID: messageID, Call: call})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventToolCallAdded, Payload: payload}, nil
}

// AddToolResult appends a tool-result message, validating invariant (2): the
// result's call id must match a tool-call on this or an earlier message
// (§3 invariant 2).
func (c *Conversation) AddToolResult(messageID string, result ToolResult) (eventstore.NewEvent, error) {
	if !c.hasToolCall(result.CallID) {
		return eventstore.NewEvent{}, errkind.Newf(errkind.InvalidState, "tool result %q has no matching tool call", result.CallID)
	}
	payload, err := eventstore.Marshal(toolResultAddedPayload{MessageID: messageID, Result: result})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventToolResultAdded, Payload: payload}, nil
}

func (c *Conversation) hasToolCall(callID string) bool {
	for _, m := range c.Messages {
		for _, tc := range m.ToolCalls {
			if tc.CallID == callID {
				return true
			}
		}
	}
	return false
}

// RequestClientAction records a pending widget, transitioning the
// conversation to awaiting_response (§3 invariant 4).
func (c *Conversation) RequestClientAction(action ClientAction) (eventstore.NewEvent, error) {
	if c.PendingAction != nil {
		return eventstore.NewEvent{}, errkind.New(errkind.InvalidState, "a client action is already pending")
	}
	payload, err := eventstore.Marshal(action)
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventClientActionRequested, Payload: payload}, nil
}

// ResolveClientAction records a received widget response, rejecting a
// mismatched widget id (§4.1 submit_widget_response: "matches the pending
// widget").
func (c *Conversation) ResolveClientAction(widgetID string) (eventstore.NewEvent, error) {
	if c.PendingAction == nil || c.PendingAction.WidgetID != widgetID {
		return eventstore.NewEvent{}, errkind.New(errkind.InvalidState, "no matching pending client action")
	}
	return eventstore.NewEvent{Type: EventClientActionResolved}, nil
}

// AdvanceTemplate records the new current-item-index, validating invariant
// (3): current_item_index ≤ item_count (§3 invariant 3).
func (c *Conversation) AdvanceTemplate(itemIndex, itemCount int) (eventstore.NewEvent, error) {
	if itemIndex > itemCount {
		return eventstore.NewEvent{}, errkind.New(errkind.InvalidState, "current_item_index exceeds template item_count")
	}
	payload, err := eventstore.Marshal(templateAdvancedPayload{ItemIndex: itemIndex})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventTemplateAdvanced, Payload: payload}, nil
}

// Clear resets messages and progress without deleting the aggregate.
func (c *Conversation) Clear() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: EventCleared}, nil
}

// Complete marks the conversation terminally completed with an optional
// summary.
func (c *Conversation) Complete(summary string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(completedPayload{Summary: summary})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventCompleted, Payload: payload}, nil
}

// Rename sets a display name for the conversation (§6: PUT
// /conversations/{id}/rename).
func (c *Conversation) Rename(name string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(renamedPayload{Name: name})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: EventRenamed, Payload: payload}, nil
}

// Delete appends the terminal delete event (§3: "a delete command appends a
// terminal event and removes the aggregate from the queryable read model").
func (c *Conversation) Delete() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: EventDeleted}, nil
}
