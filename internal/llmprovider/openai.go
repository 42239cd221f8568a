package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	DefaultModel string
	Temperature  float64
}

// openaiChat is the subset of the OpenAI Go SDK used by the adapter, used
// so tests can substitute a fake (following the teacher's ChatClient
// seam in features/model/openai/client.go, adapted to the official
// github.com/openai/openai-go client this repo's go.mod pins).
type openaiChat interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIClient implements Client via the OpenAI Chat Completions API.
type OpenAIClient struct {
	chat        openaiChat
	model       string
	temperature float64
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds an adapter from an already-configured chat
// completions client.
func NewOpenAIClient(chat openaiChat, opts OpenAIOptions) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("llmprovider: openai chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llmprovider: openai default model is required")
	}
	return &OpenAIClient{chat: chat, model: opts.DefaultModel, temperature: opts.Temperature}, nil
}

// NewOpenAIClientFromAPIKey constructs an adapter using the default OpenAI
// HTTP client and the given apiKey (the caller supplies it, e.g. from
// config's OPENAI_API_KEY).
func NewOpenAIClientFromAPIKey(apiKey string, opts OpenAIOptions) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmprovider: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIClient(&client.Chat.Completions, opts)
}

func (c *OpenAIClient) prepareRequest(req *Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("llmprovider: openai request requires messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: encodeOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeOpenAITools(req.Tools)
	}
	if temp := req.Temperature; temp > 0 {
		params.Temperature = openai.Float(float64(temp))
	} else if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

// Complete issues a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmprovider: openai chat completion: %w", err)
	}
	return translateOpenAIResponse(resp), nil
}

// Stream issues a streaming chat completion.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llmprovider: openai chat completion stream: %w", err)
	}
	return newOpenAIStreamer(ctx, stream), nil
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		var text string
		for _, p := range m.Parts {
			if t, ok := p.(TextPart); ok {
				text += t.Text
			}
		}
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case RoleUser:
			out = append(out, openai.UserMessage(text))
		case RoleAssistant:
			out = append(out, encodeOpenAIAssistantMessage(m, text))
		case RoleTool:
			for _, p := range m.Parts {
				if tr, ok := p.(ToolResultPart); ok {
					out = append(out, openai.ToolMessage(stringifyToolResult(tr.Content), tr.ToolUseID))
				}
			}
		}
	}
	return out
}

func encodeOpenAIAssistantMessage(m Message, text string) openai.ChatCompletionMessageParamUnion {
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, p := range m.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: tu.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tu.Name,
					Arguments: string(tu.Input),
				},
			})
		}
	}
	msg := openai.AssistantMessage(text)
	if len(calls) > 0 {
		msg.OfAssistant.ToolCalls = calls
	}
	return msg
}

func stringifyToolResult(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(b)
}

func encodeOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		var params map[string]any
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &params)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func translateOpenAIResponse(resp *openai.ChatCompletion) *Response {
	out := &Response{Message: Message{Role: RoleAssistant}}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = string(choice.FinishReason)
	if choice.Message.Content != "" {
		out.Message.Parts = append(out.Message.Parts, TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolUsePart{
			ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.Usage = TokenUsage{InputTokens: int(resp.Usage.PromptTokens), OutputTokens: int(resp.Usage.CompletionTokens)}
	return out
}

// openaiStreamer adapts an OpenAI chat-completion SSE stream to Streamer,
// accumulating per-index tool-call argument fragments until a choice's
// finish_reason closes the turn (mirrors the delta-accumulation shape of
// the teacher's anthropicStreamer, applied to OpenAI's flat delta chunks).
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	chunks chan Chunk

	toolCalls map[int64]*ToolUsePart
}

func newOpenAIStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &openaiStreamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan Chunk, 32), toolCalls: make(map[int64]*ToolUsePart)}
	go s.run()
	return s
}

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	for s.stream.Next() {
		event := s.stream.Current()
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]
		if choice.Delta.Content != "" {
			if !s.emit(Chunk{Type: ChunkTypeText, TextDelta: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			cur, ok := s.toolCalls[tc.Index]
			if !ok {
				cur = &ToolUsePart{ID: tc.ID, Name: tc.Function.Name}
				s.toolCalls[tc.Index] = cur
			}
			cur.Input = append(cur.Input, []byte(tc.Function.Arguments)...)
		}
		if choice.FinishReason != "" {
			for _, tc := range s.toolCalls {
				copied := *tc
				if !s.emit(Chunk{Type: ChunkTypeToolCall, ToolCall: &copied}) {
					return
				}
			}
			if !s.emit(Chunk{Type: ChunkTypeStop, StopReason: string(choice.FinishReason)}) {
				return
			}
		}
	}
}

func (s *openaiStreamer) emit(c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *openaiStreamer) Recv() (Chunk, error) {
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

func (s *openaiStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
