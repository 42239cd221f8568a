package conversation

import (
	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const AgentDefinitionAggregateType = "agent_definition"

// Event types for the AgentDefinition aggregate.
const (
	DefinitionEventCreated = "agent_definition_created"
	DefinitionEventUpdated = "agent_definition_updated"
	DefinitionEventDeleted = "agent_definition_deleted"
)

// AccessRules lives canonically in internal/conversation/store; see
// conversation.go for why.
type AccessRules = store.AccessRules

// Definition is the AgentDefinition aggregate (§3): behavioral
// configuration bound to a Conversation at open_session time.
type Definition struct {
	id               string
	version          int
	OwnerID          string
	DisplayName      string
	Icon             string
	Description      string
	SystemPrompt     string
	AllowedToolIDs   []string
	PreferredModelID string
	TemplateID       string
	Access           AccessRules
	StopOnError      bool
	Deleted          bool
}

var _ eventstore.Aggregate = (*Definition)(nil)

// NewDefinition constructs an empty Definition ready for event replay.
func NewDefinition(id string) eventstore.Aggregate { return &Definition{id: id} }

func (d *Definition) AggregateType() string { return AgentDefinitionAggregateType }

func (d *Definition) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case DefinitionEventCreated, DefinitionEventUpdated:
		var p definitionPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		d.OwnerID, d.DisplayName, d.Icon, d.Description = p.OwnerID, p.DisplayName, p.Icon, p.Description
		d.SystemPrompt, d.AllowedToolIDs, d.PreferredModelID = p.SystemPrompt, p.AllowedToolIDs, p.PreferredModelID
		d.TemplateID, d.Access, d.StopOnError = p.TemplateID, p.Access, p.StopOnError
	case DefinitionEventDeleted:
		d.Deleted = true
	}
	d.version++
	return nil
}

type definitionPayload struct {
	OwnerID          string      `json:"owner_id"`
	DisplayName      string      `json:"display_name"`
	Icon             string      `json:"icon,omitempty"`
	Description      string      `json:"description,omitempty"`
	SystemPrompt     string      `json:"system_prompt,omitempty"`
	AllowedToolIDs   []string    `json:"allowed_tool_ids,omitempty"`
	PreferredModelID string      `json:"preferred_model_id,omitempty"`
	TemplateID       string      `json:"template_id,omitempty"`
	Access           AccessRules `json:"access"`
	StopOnError      bool        `json:"stop_on_error,omitempty"`
}

// CreateDefinition produces the creation event for a new Agent Definition.
func CreateDefinition(ownerID, displayName, icon, description, systemPrompt string, allowedToolIDs []string, preferredModelID, templateID string, access AccessRules, stopOnError bool) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(definitionPayload{
		OwnerID: ownerID, DisplayName: displayName, Icon: icon, Description: description,
		SystemPrompt: systemPrompt, AllowedToolIDs: allowedToolIDs, PreferredModelID: preferredModelID,
		TemplateID: templateID, Access: access, StopOnError: stopOnError,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: DefinitionEventCreated, Payload: payload}, nil
}

// Update replaces the definition's mutable fields.
func (d *Definition) Update(displayName, icon, description, systemPrompt string, allowedToolIDs []string, preferredModelID, templateID string, access AccessRules, stopOnError bool) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(definitionPayload{
		OwnerID: d.OwnerID, DisplayName: displayName, Icon: icon, Description: description,
		SystemPrompt: systemPrompt, AllowedToolIDs: allowedToolIDs, PreferredModelID: preferredModelID,
		TemplateID: templateID, Access: access, StopOnError: stopOnError,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: DefinitionEventUpdated, Payload: payload}, nil
}

// Delete marks the definition deleted. Per §3 ownership rules, deleting a
// bound Template does not cascade here; dangling TemplateID references are
// reported by callers, not repaired.
func (d *Definition) Delete() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: DefinitionEventDeleted}, nil
}
