// Package llmprovider implements the LLM Provider Abstraction (§4 component
// D): a uniform streaming/non-streaming chat interface with tool-calls that
// the Conversation Orchestrator drives, backed by pluggable vendor adapters
// (Anthropic, OpenAI, Bedrock).
//
// The shape is grounded on the teacher's runtime/agent/model package:
// Message/Part/Request/Response/Chunk/Client/Streamer, trimmed to what the
// orchestrator's reactive loop (§4.1) actually needs — text and tool-call
// parts, no multimodal image/document/citation parts, since nothing in
// SPEC_FULL.md exercises those.
package llmprovider

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is a marker interface for a Message's typed content blocks, mirroring
// the teacher's Part hierarchy (runtime/agent/model.Part).
type Part interface{ isPart() }

// TextPart is plain assistant/user text.
type TextPart struct{ Text string }

// ThinkingPart carries provider-issued reasoning content (§4 component D:
// "uniform streaming ... across multiple backends" includes optional
// thinking for providers that support it).
type ThinkingPart struct {
	Text      string
	Signature string
}

// ToolUsePart declares a tool invocation requested by the model.
type ToolUsePart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries a tool result fed back to the model on the next
// iteration (§4.1 reactive loop step 4: "append a tool-result message").
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is one transcript entry built from typed Parts.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes a tool exposed to the model, derived from the
// caller's resolved catalog (§4.3) by the orchestrator's toolDefinitionsFor
// in internal/orchestrator.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelClass selects a model family when Request.Model is unset, mirroring
// the teacher's ModelClass (runtime/agent/model.ModelClass).
type ModelClass string

const (
	ModelClassDefault       ModelClass = "default"
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassSmall         ModelClass = "small"
)

// Request captures one model invocation (§4.1 reactive loop step 2: "Ask
// the LLM provider for a streaming chat response with the caller's resolved
// tool catalog as the tool list").
type Request struct {
	Model       string
	ModelClass  ModelClass
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
	Stream      bool
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Message    Message
	ToolCalls  []ToolUsePart
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token counts for a model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChunkType classifies a streamed Chunk, mirroring the teacher's
// ChunkType* constants (runtime/agent/model.ChunkTypeText etc.), trimmed to
// what the orchestrator's event envelope (§4.1 "Event envelope") maps
// directly onto: text deltas, a completed tool call, and a terminal stop.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeStop     ChunkType = "stop"
)

// Chunk is a single streamed event from the model (§4.1 reactive loop step
// 3: "For each chunk: append text ... emit a content_chunk event").
type Chunk struct {
	Type       ChunkType
	TextDelta  string
	ToolCall   *ToolUsePart
	StopReason string
	Usage      *TokenUsage
}

// Streamer delivers incremental model output. Callers drain Recv until it
// returns io.EOF, then call Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic model client every vendor adapter
// implements (§4 component D).
type Client interface {
	// Complete performs a non-streaming invocation.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream performs a streaming invocation (§4.1 reactive loop step 2).
	Stream(ctx context.Context, req *Request) (Streamer, error)
}
