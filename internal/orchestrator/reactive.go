package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

// SendUserMessage implements send_user_message (§4.1 public contract):
// appends a user message, then drives the reactive loop, streaming every
// produced Event onto the session's existing outbound queue.
func (o *Orchestrator) SendUserMessage(ctx context.Context, sess *Session, text string) error {
	if err := sess.transition(StateProcessing); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.AgentTimeout)
	sess.setRunContext(cancel)
	sess.beginTurn()
	go func() {
		defer sess.endTurn()
		defer cancel()
		o.runReactiveLoop(runCtx, sess, text)
	}()
	return nil
}

// runReactiveLoop implements §4.1's reactive loop, iterating steps 1-4 until
// step 5's exit condition (no tool calls in the final chunk) or a bound is
// exceeded.
func (o *Orchestrator) runReactiveLoop(ctx context.Context, sess *Session, text string) {
	now := time.Now().UTC()

	userMsgID := uuid.NewString()
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AddMessage(userMsgID, conversation.RoleUser, text, conversation.MessageCompleted, now))
	}); err != nil {
		o.failTurn(ctx, sess, "", err)
		return
	}

	assistantMsgID := uuid.NewString()
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AddMessage(assistantMsgID, conversation.RoleAssistant, "", conversation.MessageInProgress, time.Now().UTC()))
	}); err != nil {
		o.failTurn(ctx, sess, assistantMsgID, err)
		return
	}

	toolDefs, toolNameToID, err := o.toolDefinitionsFor(ctx, sess)
	if err != nil {
		o.failTurn(ctx, sess, assistantMsgID, err)
		return
	}

	defDTO, err := o.convReads.GetDefinition(ctx, sess.AgentDefinitionID)
	if err != nil {
		o.failTurn(ctx, sess, assistantMsgID, errkind.Wrap(errkind.Internal, err, "load agent definition"))
		return
	}

	var fullContent strings.Builder
	o.continueReactiveLoop(ctx, sess, assistantMsgID, toolDefs, toolNameToID, defDTO, &fullContent, 0)
}

// continueReactiveLoop drives iterations 1-4 of §4.1's reactive loop
// starting at iteration, either for a fresh turn (runReactiveLoop) or
// resuming one suspended mid-iteration by a client-action tool call
// (resumeClientActionCall, after the widget's response is recorded as that
// call's tool result).
func (o *Orchestrator) continueReactiveLoop(ctx context.Context, sess *Session, assistantMsgID string, toolDefs []llmprovider.ToolDefinition, toolNameToID map[string]string, defDTO *convstore.DefinitionDTO, fullContent *strings.Builder, iteration int) {
	em := sess.em
	for {
		if ctx.Err() != nil {
			em.emit(ctx, EventCancelled, assistantMsgID, iteration, nil)
			_ = sess.transition(StateReady)
			return
		}

		if !o.limiter.Allow(sess.UserID) {
			// §8 boundary: "no new LLM iteration is started; the in-flight
			// iteration completes". Finalize with whatever content has
			// accumulated so far, same as max_iterations_reached.
			em.emit(ctx, EventError, assistantMsgID, iteration, ErrorPayload{
				Kind:      string(errkind.RateLimited),
				Message:   "rate limit exceeded; no further reactive iterations started this turn",
				Retryable: true,
			})
			break
		}

		messages, err := o.buildModelMessages(ctx, sess.ConversationID, defDTO.SystemPrompt)
		if err != nil {
			o.failTurn(ctx, sess, assistantMsgID, err)
			return
		}

		stream, err := o.llm.Stream(ctx, &llmprovider.Request{Messages: messages, Tools: toolDefs, Stream: true})
		if err != nil {
			o.failTurn(ctx, sess, assistantMsgID, errkind.Wrap(errkind.UpstreamError, err, "llm stream"))
			return
		}

		var toolCalls []llmprovider.ToolUsePart
		streamErr := o.drainStream(ctx, stream, em, assistantMsgID, iteration, fullContent, &toolCalls)
		_ = stream.Close()
		if streamErr != nil {
			o.failTurn(ctx, sess, assistantMsgID, errkind.Wrap(errkind.UpstreamError, streamErr, "llm stream"))
			return
		}
		if ctx.Err() != nil {
			em.emit(ctx, EventCancelled, assistantMsgID, iteration, nil)
			_ = sess.transition(StateReady)
			return
		}

		if len(toolCalls) == 0 {
			// §4.1 reactive loop step 5: no tool calls, finalize and exit.
			break
		}

		if len(toolCalls) > o.cfg.MaxToolCallsPerIter {
			toolCalls = toolCalls[:o.cfg.MaxToolCallsPerIter]
		}

		stopped := false
		suspended := false
		for _, tc := range toolCalls {
			switch o.runToolCall(ctx, sess, em, assistantMsgID, iteration, tc, toolNameToID) {
			case toolCallStopOnError:
				stopped = true
			case toolCallSuspended:
				suspended = true
			}
			if stopped || suspended {
				break
			}
		}
		if stopped {
			_ = sess.transition(StateError)
			return
		}
		if suspended {
			// §4.1 transition table: PROCESSING → SUSPENDED on a
			// client-action tool call. runToolCall already recorded the
			// pending widget and transitioned the session; the turn
			// resumes from SubmitWidgetResponse, not from here.
			return
		}

		iteration++
		if iteration >= o.cfg.MaxIterations {
			em.emit(ctx, EventError, assistantMsgID, iteration, ErrorPayload{
				Kind:    "max_iterations_reached",
				Message: "reactive loop exceeded max_iterations; finalizing with accumulated content",
			})
			break
		}
	}

	finalContent := fullContent.String()
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.CompleteMessage(assistantMsgID, finalContent))
	}); err != nil {
		o.failTurn(ctx, sess, assistantMsgID, err)
		return
	}
	em.emit(ctx, EventContentComplete, assistantMsgID, iteration, ContentCompletePayload{FullContent: finalContent})
	_ = sess.transition(StateReady)
}

// drainStream reads stream until io.EOF, appending text to fullContent and
// emitting content_chunk events, and collecting every tool call carried by
// any chunk (§4.1 reactive loop step 3-4).
func (o *Orchestrator) drainStream(ctx context.Context, stream llmprovider.Streamer, em *emitter, messageID string, iteration int, fullContent *strings.Builder, toolCalls *[]llmprovider.ToolUsePart) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch chunk.Type {
		case llmprovider.ChunkTypeText:
			if chunk.TextDelta == "" {
				continue
			}
			fullContent.WriteString(chunk.TextDelta)
			em.emit(ctx, EventContentChunk, messageID, iteration, ContentChunkPayload{Text: chunk.TextDelta})
		case llmprovider.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				*toolCalls = append(*toolCalls, *chunk.ToolCall)
			}
		case llmprovider.ChunkTypeStop:
			// Nothing further to accumulate; the loop exits on io.EOF.
		}
	}
}

// toolCallOutcome tells continueReactiveLoop how to proceed after one tool call.
type toolCallOutcome int

const (
	toolCallContinue toolCallOutcome = iota
	toolCallStopOnError
	toolCallSuspended
)

// runToolCall executes a single tool call (§4.1 reactive loop step 4, §4.2)
// and appends its result to the conversation, unless the tool is a client
// action (widget), in which case it suspends the session instead of
// dispatching to the tool pipeline (§4.1 transition table: PROCESSING →
// SUSPENDED; GLOSSARY "Client Action / Widget").
func (o *Orchestrator) runToolCall(ctx context.Context, sess *Session, em *emitter, messageID string, iteration int, tc llmprovider.ToolUsePart, toolNameToID map[string]string) toolCallOutcome {
	var args map[string]any
	_ = json.Unmarshal(tc.Input, &args)

	em.emit(ctx, EventToolCallStarted, messageID, iteration, ToolCallStartedPayload{
		CallID: tc.ID, ToolName: tc.Name, Arguments: args,
	})

	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AddToolCall(messageID, conversation.ToolCall{CallID: tc.ID, Name: tc.Name, Arguments: args}))
	}); err != nil {
		o.failTurn(ctx, sess, messageID, err)
		return toolCallStopOnError
	}

	toolID, known := toolNameToID[tc.Name]
	if !known {
		toolID = tc.Name
	}

	if tool, err := o.catalogReads.GetTool(ctx, toolID); err == nil && tool.Definition.ExecutionProfile.Mode == catalog.ExecutionModeClientAction {
		if err := o.suspendForClientAction(ctx, sess, em, tc, args); err != nil {
			o.failTurn(ctx, sess, messageID, err)
			return toolCallStopOnError
		}
		return toolCallSuspended
	}

	callerToken, _ := sess.Claims["bearer_token"].(string)
	result, execErr := o.tools.Execute(ctx, toolID, args, callerToken, toolexec.Options{})

	toolResult := conversation.ToolResult{CallID: tc.ID}
	ack := ToolCallCompletedPayload{CallID: tc.ID, ToolName: tc.Name}
	if execErr != nil {
		toolResult.Success = false
		toolResult.Error = execErr.Error()
		ack.Success = false
		ack.Error = execErr.Error()
	} else {
		toolResult.Success = result.Status == toolexec.StatusCompleted
		toolResult.Result = result.Result
		toolResult.Error = result.Error
		toolResult.UpstreamStatus = result.UpstreamStatus
		toolResult.ExecutionTimeMS = result.ExecutionTimeMS
		ack.Success = toolResult.Success
		ack.Result = result.Result
		ack.Error = result.Error
		ack.Warnings = result.Warnings
	}
	em.emit(ctx, EventToolCallCompleted, messageID, iteration, ack)

	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AddToolResult(messageID, toolResult))
	}); err != nil {
		o.failTurn(ctx, sess, messageID, err)
		return toolCallStopOnError
	}

	// §7 "Propagation": tool failures feed back into the loop instead of
	// terminating it, unless the agent is configured stop_on_error.
	if !toolResult.Success && sess.StopOnError {
		return toolCallStopOnError
	}
	return toolCallContinue
}

// suspendForClientAction implements runToolCall's client-action branch:
// record the tool call's id as the pending widget (§3 invariant 4) and
// suspend, rendering whatever the LLM's arguments describe for the client
// (§4.1 proactive flow step 3's widget_render shape, reused here since a
// reactive client action is rendered the same way a template widget is).
func (o *Orchestrator) suspendForClientAction(ctx context.Context, sess *Session, em *emitter, tc llmprovider.ToolUsePart, args map[string]any) error {
	widgetType, _ := args["widget_type"].(string)
	stem, _ := args["stem"].(string)
	required, _ := args["required"].(bool)
	var options []string
	if raw, ok := args["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}

	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.RequestClientAction(conversation.ClientAction{WidgetID: tc.ID, WidgetType: widgetType}))
	}); err != nil {
		return err
	}

	sess.PendingWidgetID = tc.ID
	if err := sess.transition(StateSuspended); err != nil {
		return err
	}
	em.emit(ctx, EventWidgetRender, "", 0, WidgetRenderPayload{
		WidgetID: tc.ID, WidgetType: widgetType, Stem: stem, Options: options, Required: required,
	})
	return nil
}

// failTurn implements §7's terminal failure path: emit a structured error
// event and move the session to ERROR. Tool failures never reach here —
// those are handled entirely within runToolCall as tool_call_completed
// events.
func (o *Orchestrator) failTurn(ctx context.Context, sess *Session, messageID string, err error) {
	o.emitError(ctx, sess.em, messageID, err)
	_ = sess.transition(StateError)
}

// buildModelMessages implements §4.1 reactive loop step 1: system prompt
// first (always retained), then prior messages bounded by
// max_context_messages (most recent retained).
func (o *Orchestrator) buildModelMessages(ctx context.Context, conversationID, systemPrompt string) ([]llmprovider.Message, error) {
	dto, err := o.convReads.GetConversation(ctx, conversationID)
	if err != nil {
		if err == convstore.ErrNotFound {
			return nil, errkind.Newf(errkind.NotFound, "conversation %q not found", conversationID)
		}
		return nil, errkind.Wrap(errkind.Internal, err, "load conversation")
	}

	// The persisted system message (§3 invariant 1) takes precedence over the
	// definition's prompt; either way the system text survives truncation.
	msgs := dto.Messages
	if len(msgs) > 0 && msgs[0].Role == conversation.RoleSystem {
		systemPrompt = msgs[0].Content
		msgs = msgs[1:]
	}
	if max := o.maxContextMessages(); max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}

	out := make([]llmprovider.Message, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, llmprovider.Message{Role: llmprovider.RoleSystem, Parts: []llmprovider.Part{llmprovider.TextPart{Text: systemPrompt}}})
	}
	for _, m := range msgs {
		out = append(out, toModelMessage(m))
	}
	return out, nil
}

func (o *Orchestrator) maxContextMessages() int {
	if o.cfg.MaxContextMessages <= 0 {
		return DefaultConfig().MaxContextMessages
	}
	return o.cfg.MaxContextMessages
}

func toModelMessage(m conversation.Message) llmprovider.Message {
	role := llmprovider.RoleAssistant
	switch m.Role {
	case conversation.RoleUser:
		role = llmprovider.RoleUser
	case conversation.RoleSystem:
		role = llmprovider.RoleSystem
	case conversation.RoleTool:
		role = llmprovider.RoleTool
	}

	var parts []llmprovider.Part
	if m.Content != "" {
		parts = append(parts, llmprovider.TextPart{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		input, _ := json.Marshal(tc.Arguments)
		parts = append(parts, llmprovider.ToolUsePart{ID: tc.CallID, Name: tc.Name, Input: input})
	}
	for _, tr := range m.ToolResults {
		content := any(tr.Result)
		if !tr.Success {
			content = tr.Error
		}
		parts = append(parts, llmprovider.ToolResultPart{ToolUseID: tr.CallID, Content: content, IsError: !tr.Success})
	}
	return llmprovider.Message{Role: role, Parts: parts}
}

// toolDefinitionsFor resolves sess's accessible tool ids into llmprovider
// tool definitions (§4.1 reactive loop step 2: "the caller's resolved tool
// catalog as the tool list").
func (o *Orchestrator) toolDefinitionsFor(ctx context.Context, sess *Session) ([]llmprovider.ToolDefinition, map[string]string, error) {
	defs := make([]llmprovider.ToolDefinition, 0, len(sess.ResolvedToolIDs))
	nameToID := make(map[string]string, len(sess.ResolvedToolIDs))
	for _, id := range sess.ResolvedToolIDs {
		tool, err := o.catalogReads.GetTool(ctx, id)
		if err != nil {
			if err == catalogstore.ErrNotFound {
				continue
			}
			return nil, nil, errkind.Wrap(errkind.Internal, err, "load tool")
		}
		if !tool.IsEnabled || tool.Status != catalog.ToolStatusActive {
			continue
		}
		defs = append(defs, llmprovider.ToolDefinition{
			Name:        tool.ToolName,
			Description: tool.Description,
			InputSchema: json.RawMessage(tool.Definition.InputSchema),
		})
		nameToID[tool.ToolName] = tool.ID
	}
	return defs, nameToID, nil
}
