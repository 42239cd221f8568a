package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicOptions configures the Anthropic adapter, mirroring the
// teacher's features/model/anthropic.Options.
type AnthropicOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// anthropicMessages is the subset of the Anthropic SDK used by the adapter,
// letting tests substitute a fake (features/model/anthropic.MessagesClient).
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg          anthropicMessages
	defaultModel string
	maxTokens    int
	temperature  float64
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient builds an adapter from an already-configured Anthropic
// Messages client.
func NewAnthropicClient(msg anthropicMessages, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llmprovider: anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llmprovider: anthropic default model is required")
	}
	return &AnthropicClient{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewAnthropicClientFromAPIKey constructs an adapter using the default
// Anthropic HTTP client and the given apiKey (the caller supplies it, e.g.
// from config's ANTHROPIC_API_KEY).
func NewAnthropicClientFromAPIKey(apiKey string, opts AnthropicOptions) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmprovider: anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&ac.Messages, opts)
}

func (c *AnthropicClient) prepareRequest(req *Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llmprovider: anthropic request requires messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if temp := req.Temperature; temp > 0 {
		params.Temperature = sdk.Float(float64(temp))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeAnthropicTools(req.Tools)
	}
	return params, nil
}

// Complete issues a non-streaming Messages.New call.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("llmprovider: anthropic messages.new: %w", err)
	}
	return translateAnthropicMessage(msg), nil
}

// Stream issues a streaming Messages.NewStreaming call.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llmprovider: anthropic messages.new stream: %w", err)
	}
	return newAnthropicStreamer(ctx, stream), nil
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema any
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: schemaProperties(schema),
		}, d.Name))
	}
	return out
}

// schemaProperties extracts the "properties" object of a JSON-Schema-shaped
// document for sdk.ToolInputSchemaParam, which accepts the properties map
// directly rather than the whole schema document.
func schemaProperties(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return nil
	}
	return m["properties"]
}

func encodeAnthropicMessages(msgs []Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Role == RoleSystem {
			for _, p := range m.Parts {
				if t, ok := p.(TextPart); ok && t.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: t.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case TextPart:
				if p.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(p.Text))
				}
			case ToolUsePart:
				var input any
				_ = json.Unmarshal(p.Input, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(p.ID, input, p.Name))
			case ToolResultPart:
				content := fmt.Sprintf("%v", p.Content)
				if b, err := json.Marshal(p.Content); err == nil {
					content = string(b)
				}
				blocks = append(blocks, sdk.NewToolResultBlock(p.ToolUseID, content, p.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := sdk.MessageParamRoleUser
		if m.Role == RoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		conversation = append(conversation, sdk.MessageParam{Role: role, Content: blocks})
	}
	return conversation, system, nil
}

func translateAnthropicMessage(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	resp.Usage = TokenUsage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			resp.Message.Parts = append(resp.Message.Parts, TextPart{Text: v.Text})
		case sdk.ThinkingBlock:
			resp.Message.Parts = append(resp.Message.Parts, ThinkingPart{Text: v.Thinking, Signature: v.Signature})
		case sdk.ToolUseBlock:
			input, _ := json.Marshal(v.Input)
			tc := ToolUsePart{ID: v.ID, Name: v.Name, Input: input}
			resp.ToolCalls = append(resp.ToolCalls, tc)
		}
	}
	resp.Message.Role = RoleAssistant
	return resp
}

// anthropicStreamer adapts an Anthropic Messages SSE stream to Streamer,
// grounded on the teacher's features/model/anthropic/stream.go
// channel-pumping pattern.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan Chunk

	currentToolID   string
	currentToolName string
	currentToolJSON []byte
}

func newAnthropicStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStreamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan Chunk, 32)}
	go s.run()
	return s
}

func (s *anthropicStreamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	for s.stream.Next() {
		event := s.stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.ContentBlock.AsAny()
			if tu, ok := block.(sdk.ToolUseBlock); ok {
				s.currentToolID = tu.ID
				s.currentToolName = tu.Name
				s.currentToolJSON = s.currentToolJSON[:0]
			}
		case "content_block_delta":
			delta := event.Delta
			switch delta.Type {
			case "text_delta":
				if !s.emit(Chunk{Type: ChunkTypeText, TextDelta: delta.Text}) {
					return
				}
			case "input_json_delta":
				s.currentToolJSON = append(s.currentToolJSON, delta.PartialJSON...)
			}
		case "content_block_stop":
			if s.currentToolID != "" {
				tc := ToolUsePart{ID: s.currentToolID, Name: s.currentToolName, Input: append([]byte(nil), s.currentToolJSON...)}
				if !s.emit(Chunk{Type: ChunkTypeToolCall, ToolCall: &tc}) {
					return
				}
				s.currentToolID = ""
			}
		case "message_delta":
			reason := string(event.Delta.StopReason)
			if reason != "" {
				if !s.emit(Chunk{Type: ChunkTypeStop, StopReason: reason}) {
					return
				}
			}
		}
	}
}

func (s *anthropicStreamer) emit(c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *anthropicStreamer) Recv() (Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			if err := s.stream.Err(); err != nil {
				return Chunk{}, err
			}
			return Chunk{}, io.EOF
		}
		return c, nil
	case <-s.ctx.Done():
		return Chunk{}, s.ctx.Err()
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
