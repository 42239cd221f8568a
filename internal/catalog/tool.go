package catalog

import (
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const ToolAggregateType = "source_tool"

// Event types for the SourceTool aggregate.
const (
	ToolEventDiscovered        = "tool_discovered"
	ToolEventDefinitionUpdated = "tool_definition_updated"
	ToolEventDeprecated        = "tool_deprecated"
	ToolEventRestored          = "tool_restored"
	ToolEventEnabledChanged    = "tool_enabled_changed"
)

// ToolID returns the canonical composite id for a tool (§9 Open Question
// decision: "{source_id}:{operation_id}" is canonical everywhere).
func ToolID(sourceID, operationID string) string {
	return sourceID + ":" + operationID
}

// Tool is the SourceTool aggregate (§3).
type Tool struct {
	id             string
	version        int
	SourceID       string
	SourceName     string
	OperationID    string
	Definition     ToolDefinition
	Tags           []string
	LabelIDs       []string
	IsEnabled      bool
	Status         ToolLifecycleStatus
	DefinitionHash string
}

var _ eventstore.Aggregate = (*Tool)(nil)

// NewTool constructs an empty Tool ready for event replay or commands.
func NewTool(id string) eventstore.Aggregate { return &Tool{id: id} }

func (t *Tool) AggregateType() string { return ToolAggregateType }

func (t *Tool) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case ToolEventDiscovered:
		var p toolDiscoveredPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		t.SourceID, t.SourceName, t.OperationID = p.SourceID, p.SourceName, p.OperationID
		t.Definition, t.DefinitionHash = p.Definition, p.DefinitionHash
		t.Status = ToolStatusActive
		t.IsEnabled = true
	case ToolEventDefinitionUpdated:
		var p toolDefinitionUpdatedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		t.Definition, t.DefinitionHash = p.Definition, p.NewHash
	case ToolEventDeprecated:
		t.Status = ToolStatusDeprecated
	case ToolEventRestored:
		t.Status = ToolStatusActive
	case ToolEventEnabledChanged:
		var p toolEnabledChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		t.IsEnabled = p.Enabled
	}
	t.version++
	return nil
}

type (
	toolDiscoveredPayload struct {
		SourceID       string         `json:"source_id"`
		SourceName     string         `json:"source_name"`
		OperationID    string         `json:"operation_id"`
		Definition     ToolDefinition `json:"definition"`
		DefinitionHash string         `json:"definition_hash"`
	}
	toolDefinitionUpdatedPayload struct {
		Definition ToolDefinition `json:"definition"`
		OldHash    string         `json:"old_hash"`
		NewHash    string         `json:"new_hash"`
	}
	toolEnabledChangedPayload struct {
		Enabled bool `json:"enabled"`
	}
)

// Discover produces the event for a brand new tool found during ingestion.
func Discover(sourceID, sourceName, operationID string, def ToolDefinition, hash string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(toolDiscoveredPayload{
		SourceID: sourceID, SourceName: sourceName, OperationID: operationID,
		Definition: def, DefinitionHash: hash,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: ToolEventDiscovered, Payload: payload}, nil
}

// UpdateDefinition records a changed tool definition detected by a hash diff.
func (t *Tool) UpdateDefinition(def ToolDefinition, newHash string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(toolDefinitionUpdatedPayload{Definition: def, OldHash: t.DefinitionHash, NewHash: newHash})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: ToolEventDefinitionUpdated, Payload: payload}, nil
}

// Deprecate marks a tool missing from the latest inventory refresh.
func (t *Tool) Deprecate() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: ToolEventDeprecated}, nil
}

// Restore marks a previously deprecated tool that reappeared in inventory.
func (t *Tool) Restore() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: ToolEventRestored}, nil
}

// SetEnabled enables or disables the tool independent of lifecycle status.
func (t *Tool) SetEnabled(enabled bool) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(toolEnabledChangedPayload{Enabled: enabled})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: ToolEventEnabledChanged, Payload: payload}, nil
}
