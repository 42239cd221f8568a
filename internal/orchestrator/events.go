package orchestrator

// EventType enumerates the wire event types a session's outbound queue can
// carry (§4.1 "Event envelope (wire-level)").
type EventType string

const (
	EventContentChunk      EventType = "content_chunk"
	EventContentComplete   EventType = "content_complete"
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventWidgetRender      EventType = "widget_render"
	EventWidgetResponseAck EventType = "widget_response_ack"
	EventItemContext       EventType = "item_context"
	EventFlowStarted       EventType = "flow_started"
	EventFlowCompleted     EventType = "flow_completed"
	EventChatInputEnabled  EventType = "chat_input_enabled"
	EventError             EventType = "error"
	EventCancelled         EventType = "cancelled"
	EventStreamStarted     EventType = "stream_started"
)

// Event is the tagged record every client-bound event is shaped as (§4.1,
// §6: "Each event is a record { type, conversation_id, message_id?,
// iteration?, payload }").
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Payload        any       `json:"payload,omitempty"`
}

// StreamStartedPayload is the wire payload of the channel's first event
// (§6: "the first event is stream_started carrying the conversation id and
// session request id").
type StreamStartedPayload struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
}

// ContentChunkPayload carries an incremental assistant-text delta (§4.1
// reactive loop step 3).
type ContentChunkPayload struct {
	Text string `json:"text"`
}

// ContentCompletePayload carries the final accumulated assistant message
// (§4.1 reactive loop step 5).
type ContentCompletePayload struct {
	FullContent string `json:"full_content"`
}

// ToolCallStartedPayload announces a tool dispatch about to begin (§4.1
// reactive loop step 4).
type ToolCallStartedPayload struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallCompletedPayload carries a tool dispatch's outcome (§4.1 reactive
// loop step 4, §4.2 step 5, §7 "Propagation": tool failures surface as a
// tool_call_completed event, never as a raised error).
type ToolCallCompletedPayload struct {
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	Success  bool           `json:"success"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// WidgetRenderPayload carries a widget descriptor for client rendering
// (§4.1 proactive flow step 3).
type WidgetRenderPayload struct {
	WidgetID     string   `json:"widget_id"`
	WidgetType   string   `json:"widget_type"`
	Stem         string   `json:"stem,omitempty"`
	Options      []string `json:"options,omitempty"`
	InitialValue string   `json:"initial_value,omitempty"`
	Required     bool     `json:"required"`
}

// WidgetResponseAckPayload acknowledges a received widget response.
type WidgetResponseAckPayload struct {
	WidgetID string `json:"widget_id"`
	Accepted bool   `json:"accepted"`
}

// ItemContextPayload announces the template item now being presented (§4.1
// proactive flow step 2; SPEC_FULL.md SUPPLEMENTED FEATURES #1: the legacy
// panel header is folded into ProgressPercent instead of a standalone
// event).
type ItemContextPayload struct {
	ItemID          string  `json:"item_id"`
	Title           string  `json:"title,omitempty"`
	Index           int     `json:"index"`
	Total           int     `json:"total"`
	ProgressPercent float64 `json:"progress_percent"`
}

// ChatInputEnabledPayload toggles whether the client should accept free
// chat input (§4.1 proactive flow step 5; SPEC_FULL.md SUPPLEMENTED
// FEATURES #4: HideAll is set on final completion so the client retires the
// input entirely instead of merely disabling it).
type ChatInputEnabledPayload struct {
	Enabled bool `json:"enabled"`
	HideAll bool `json:"hide_all,omitempty"`
}

// ErrorPayload carries a structured failure (§7: "emit an error wire event
// with {kind, message, retryable}").
type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// FlowCompletedPayload carries the terminal outcome of a proactive flow,
// including the optional final score report (§4.1 proactive flow step 7;
// §4.1.1 scoring).
type FlowCompletedPayload struct {
	Completed   bool    `json:"completed"`
	ScoreEarned float64 `json:"score_earned,omitempty"`
	ScorePossible float64 `json:"score_possible,omitempty"`
	ScorePercent  float64 `json:"score_percent,omitempty"`
	Passed        *bool   `json:"passed,omitempty"`
}
