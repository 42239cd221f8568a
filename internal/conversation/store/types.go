package store

import "time"

// The vocabulary types below live canonically here (rather than in the
// parent conversation package) so this package can be a DTO-only leaf with
// no dependency on conversation's aggregates; conversation re-exports them
// as aliases.

// Role enumerates a Message's author (§3).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageStatus enumerates a Message's lifecycle (§3).
type MessageStatus string

const (
	MessageInProgress MessageStatus = "in_progress"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)

// Status enumerates the Conversation's structural state (§3).
type Status string

const (
	StatusPending          Status = "pending"
	StatusActive           Status = "active"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusCompleted        Status = "completed"
)

// ToolCall is a single tool invocation requested by the LLM (§3).
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall (§3, §4.2 step 5).
type ToolResult struct {
	CallID          string         `json:"call_id"`
	Success         bool           `json:"success"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	UpstreamStatus  int            `json:"upstream_status,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms,omitempty"`
}

// Message is one turn of conversation content (§3).
type Message struct {
	ID          string        `json:"id"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      MessageStatus `json:"status"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	// MessageType tags virtual (intro/completion/report) messages (§9
	// SUPPLEMENTED FEATURES #2); empty for ordinary turns.
	MessageType string `json:"message_type,omitempty"`
}

// ClientAction is a pending widget awaiting a structured user response
// (§3: "optional pending client-action (widget awaiting user response)").
type ClientAction struct {
	WidgetID   string `json:"widget_id"`
	WidgetType string `json:"widget_type"`
	ItemID     string `json:"item_id,omitempty"`
}

// AccessRules gates which callers may bind a session to an agent
// definition (§3 Agent Definition: "access rules (public flag, required
// roles, required scopes, explicit allow-list)").
type AccessRules struct {
	Public         bool     `json:"public"`
	RequiredRoles  []string `json:"required_roles,omitempty"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
	AllowList      []string `json:"allow_list,omitempty"`
}

// Allows reports whether a caller with the given roles/scopes/user id may
// bind a session to a definition carrying these rules.
func (a AccessRules) Allows(userID string, roles, scopes []string) bool {
	if a.Public {
		return true
	}
	for _, id := range a.AllowList {
		if id == userID {
			return true
		}
	}
	if len(a.RequiredRoles) > 0 && !containsAll(roles, a.RequiredRoles) {
		return false
	}
	if len(a.RequiredScopes) > 0 && !containsAll(scopes, a.RequiredScopes) {
		return false
	}
	return len(a.RequiredRoles) > 0 || len(a.RequiredScopes) > 0
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// WidgetType enumerates the renderable kinds of an ItemContent (§3 Item
// Content).
type WidgetType string

const (
	WidgetMessage        WidgetType = "message"
	WidgetMultipleChoice WidgetType = "multiple_choice"
	WidgetFreeText       WidgetType = "free_text"
	WidgetCodeEditor     WidgetType = "code_editor"
	WidgetButton         WidgetType = "button"
	WidgetTextDisplay    WidgetType = "text_display"
	WidgetImageDisplay   WidgetType = "image_display"
	WidgetVideo          WidgetType = "video"
	WidgetChart          WidgetType = "chart"
	WidgetDataTable      WidgetType = "data_table"
	WidgetDocumentViewer WidgetType = "document_viewer"
	WidgetStickyNote     WidgetType = "sticky_note"
	WidgetGraphTopology  WidgetType = "graph_topology"
)

// RequiresResponse reports whether widgets of this type wait for a
// structured client response before the item can advance (§4.1 step 3:
// "Mark widget id as required if required=true and widget type is
// interactive"). Purely decorative/static widget types never gate advance.
func (w WidgetType) RequiresResponse() bool {
	switch w {
	case WidgetMessage, WidgetTextDisplay, WidgetImageDisplay, WidgetVideo,
		WidgetChart, WidgetDataTable, WidgetDocumentViewer, WidgetStickyNote,
		WidgetGraphTopology:
		return false
	default:
		return true
	}
}

// ItemContent is a single renderable unit within a template Item (§3 Item
// Content value).
type ItemContent struct {
	ID               string     `json:"id"`
	Order            int        `json:"order"`
	WidgetType       WidgetType `json:"widget_type"`
	IsTemplated      bool       `json:"is_templated"`
	SourceID         string     `json:"source_id,omitempty"`
	Required         bool       `json:"required"`
	Skippable        bool       `json:"skippable"`
	MaxScore         float64    `json:"max_score,omitempty"`
	Stem             string     `json:"stem,omitempty"`
	Options          []string   `json:"options,omitempty"`
	CorrectAnswer    string     `json:"-"` // never serialized to clients (§3 invariant)
	Explanation      string     `json:"explanation,omitempty"`
	InitialValue     string     `json:"initial_value,omitempty"`
	GenerationPrompt string     `json:"generation_prompt,omitempty"`
}

// Item is one ordered step of a Conversation Template's proactive flow (§3
// Conversation Template).
type Item struct {
	ID                      string        `json:"id"`
	Title                   string        `json:"title,omitempty"`
	Contents                []ItemContent `json:"contents,omitempty"`
	RequireUserConfirmation bool          `json:"require_user_confirmation"`
	EnableChatInput         bool          `json:"enable_chat_input"`
	TimeLimitSeconds        int           `json:"time_limit_seconds,omitempty"`
}
