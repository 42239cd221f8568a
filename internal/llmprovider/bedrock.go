package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockOptions configures the Bedrock adapter, mirroring the teacher's
// features/model/bedrock.Options trimmed to the fields SPEC_FULL.md's
// model-class selection (§4 component D) actually needs.
type BedrockOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float32
}

// bedrockRuntime is the subset of *bedrockruntime.Client used by the
// adapter, grounded on the teacher's RuntimeClient seam
// (features/model/bedrock/client.go) so tests can substitute a fake.
type bedrockRuntime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockClient implements Client on top of the AWS Bedrock Converse API.
type BedrockClient struct {
	runtime      bedrockRuntime
	defaultModel string
	highModel    string
	smallModel   string
	maxTokens    int
	temperature  float32
}

var _ Client = (*BedrockClient)(nil)

// NewBedrockClient builds an adapter from an already-configured Bedrock
// runtime client.
func NewBedrockClient(runtime bedrockRuntime, opts BedrockOptions) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("llmprovider: bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llmprovider: bedrock default model is required")
	}
	return &BedrockClient{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// modelFor resolves a model identifier from the request, falling back on
// ModelClass and finally the configured default (§4 component D: "Uniform
// streaming ... across multiple backends").
func (c *BedrockClient) modelFor(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *BedrockClient) buildInput(req *Request) (string, []brtypes.Message, []brtypes.SystemContentBlock, *brtypes.ToolConfiguration, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, nil, errors.New("llmprovider: bedrock request requires messages")
	}
	messages, system, err := encodeBedrockMessages(req.Messages)
	if err != nil {
		return "", nil, nil, nil, err
	}
	var toolConfig *brtypes.ToolConfiguration
	if len(req.Tools) > 0 {
		toolConfig = encodeBedrockTools(req.Tools)
	}
	return c.modelFor(req), messages, system, toolConfig, nil
}

func (c *BedrockClient) inferenceConfig(req *Request) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		v := int32(maxTokens)
		cfg.MaxTokens = &v
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temperature
	}
	if temp > 0 {
		cfg.Temperature = &temp
	}
	return cfg
}

// Complete issues a non-streaming Converse call.
func (c *BedrockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	modelID, messages, system, toolConfig, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:         &modelID,
		Messages:        messages,
		System:          system,
		ToolConfig:      toolConfig,
		InferenceConfig: c.inferenceConfig(req),
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llmprovider: bedrock converse: %w", err)
	}
	return translateBedrockOutput(out)
}

// Stream issues a streaming ConverseStream call.
func (c *BedrockClient) Stream(ctx context.Context, req *Request) (Streamer, error) {
	modelID, messages, system, toolConfig, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         &modelID,
		Messages:        messages,
		System:          system,
		ToolConfig:      toolConfig,
		InferenceConfig: c.inferenceConfig(req),
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llmprovider: bedrock converse_stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("llmprovider: bedrock converse_stream returned no event stream")
	}
	return newBedrockStreamer(ctx, stream), nil
}

func encodeBedrockTools(defs []ToolDefinition) *brtypes.ToolConfiguration {
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, d := range defs {
		var schemaDoc any = map[string]any{"type": "object"}
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schemaDoc)
		}
		name := d.Name
		desc := d.Description
		spec := brtypes.ToolSpecification{
			Name:        &name,
			Description: &desc,
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schemaDoc)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func encodeBedrockMessages(msgs []Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m.Role == RoleSystem {
			for _, p := range m.Parts {
				if t, ok := p.(TextPart); ok && t.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: t.Text})
				}
			}
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case TextPart:
				if p.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: p.Text})
				}
			case ToolUsePart:
				var input any
				_ = json.Unmarshal(p.Input, &input)
				id := p.ID
				name := p.Name
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: &id,
					Name:      &name,
					Input:     document.NewLazyDocument(&input),
				}})
			case ToolResultPart:
				toolUseID := p.ToolUseID
				tr := brtypes.ToolResultBlock{ToolUseId: &toolUseID}
				if s, ok := p.Content.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: s}}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(&p.Content)}}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	return conversation, system, nil
}

func translateBedrockOutput(out *bedrockruntime.ConverseOutput) (*Response, error) {
	resp := &Response{}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.Usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.Usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	resp.Message.Role = RoleAssistant
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Message.Parts = append(resp.Message.Parts, TextPart{Text: v.Value})
		case *brtypes.ContentBlockMemberToolUse:
			var input []byte
			if v.Value.Input != nil {
				if data, err := v.Value.Input.MarshalSmithyDocument(); err == nil && len(data) > 0 {
					input = data
				}
			}
			id, name := "", ""
			if v.Value.ToolUseId != nil {
				id = *v.Value.ToolUseId
			}
			if v.Value.Name != nil {
				name = *v.Value.Name
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{ID: id, Name: name, Input: input})
		}
	}
	return resp, nil
}

// bedrockStreamer adapts a Bedrock ConverseStream event stream to Streamer,
// grounded on the teacher's features/model/bedrock/stream.go
// channel-pumping pattern, trimmed to the text/tool_call/stop chunk
// vocabulary the orchestrator's reactive loop (§4.1) consumes.
type bedrockStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream
	chunks chan Chunk

	toolBlocks map[int32]*bedrockToolBuffer
}

type bedrockToolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newBedrockStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &bedrockStreamer{
		ctx:        cctx,
		cancel:     cancel,
		stream:     stream,
		chunks:     make(chan Chunk, 32),
		toolBlocks: make(map[int32]*bedrockToolBuffer),
	}
	go s.run()
	return s
}

func (s *bedrockStreamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	for event := range s.stream.Events() {
		switch ev := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok && ev.Value.ContentBlockIndex != nil {
				tb := &bedrockToolBuffer{}
				if start.Value.ToolUseId != nil {
					tb.id = *start.Value.ToolUseId
				}
				if start.Value.Name != nil {
					tb.name = *start.Value.Name
				}
				s.toolBlocks[*ev.Value.ContentBlockIndex] = tb
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					if !s.emit(Chunk{Type: ChunkTypeText, TextDelta: delta.Value}) {
						return
					}
				}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				if ev.Value.ContentBlockIndex != nil && delta.Value.Input != nil {
					if tb := s.toolBlocks[*ev.Value.ContentBlockIndex]; tb != nil {
						tb.fragments = append(tb.fragments, *delta.Value.Input)
					}
				}
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockStop:
			if ev.Value.ContentBlockIndex == nil {
				continue
			}
			idx := *ev.Value.ContentBlockIndex
			tb := s.toolBlocks[idx]
			if tb == nil {
				continue
			}
			delete(s.toolBlocks, idx)
			raw := strings.Join(tb.fragments, "")
			if raw == "" {
				raw = "{}"
			}
			tc := ToolUsePart{ID: tb.id, Name: tb.name, Input: json.RawMessage(raw)}
			if !s.emit(Chunk{Type: ChunkTypeToolCall, ToolCall: &tc}) {
				return
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			reason := string(ev.Value.StopReason)
			if !s.emit(Chunk{Type: ChunkTypeStop, StopReason: reason}) {
				return
			}
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage == nil {
				continue
			}
			usage := TokenUsage{}
			if ev.Value.Usage.InputTokens != nil {
				usage.InputTokens = int(*ev.Value.Usage.InputTokens)
			}
			if ev.Value.Usage.OutputTokens != nil {
				usage.OutputTokens = int(*ev.Value.Usage.OutputTokens)
			}
			if !s.emit(Chunk{Type: ChunkTypeStop, Usage: &usage}) {
				return
			}
		}
	}
}

func (s *bedrockStreamer) emit(c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *bedrockStreamer) Recv() (Chunk, error) {
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

func (s *bedrockStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
