package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// SubmitWidgetResponse implements submit_widget_response (§4.1 public
// contract): INVALID_STATE unless the session is SUSPENDED with a pending
// widget matching widgetID, otherwise resolves it and continues the
// proactive flow.
//
// The Conversation aggregate's ResolveClientAction carries no value
// (§3: the pending action only tracks that a widget is awaited, not what
// the client answered), so the submitted value is persisted here as a
// virtual message (assistant role, message type widget_response), and tracked for scoring in the session's ephemeral
// per-item state.
func (o *Orchestrator) SubmitWidgetResponse(ctx context.Context, sess *Session, widgetID, value string) error {
	if err := sess.AwaitPresented(ctx); err != nil {
		return err
	}
	if sess.State() != StateSuspended {
		return errkind.Newf(errkind.InvalidState, "no widget is awaiting a response in state %s", sess.State())
	}
	if sess.item == nil {
		// No proactive-flow item is in play: the pending widget must be a
		// reactive client-action tool call suspended by runToolCall.
		return o.resumeClientActionCall(ctx, sess, widgetID, value)
	}
	if len(sess.item.pending) == 0 || sess.item.pending[0] != widgetID {
		return errkind.Newf(errkind.InvalidState, "widget %q is not the pending widget", widgetID)
	}

	msgID := fmt.Sprintf("widget-response-%s", widgetID)
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AppendVirtualMessage(msgID, value, "widget_response", time.Now().UTC()))
	}); err != nil {
		return err
	}
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.ResolveClientAction(widgetID))
	}); err != nil {
		return err
	}

	tmplDTO, err := o.convReads.GetTemplate(ctx, sess.TemplateID)
	if err != nil {
		if err == convstore.ErrNotFound {
			return errkind.Newf(errkind.NotFound, "template %q not found", sess.TemplateID)
		}
		return errkind.Wrap(errkind.Internal, err, "load template")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess.setRunContext(cancel)
	sess.beginTurn()
	go func() {
		defer sess.endTurn()
		defer cancel()
		if err := o.handleWidgetResponse(runCtx, sess, tmplDTO, widgetID, value); err != nil {
			o.failTurn(runCtx, sess, "", err)
		}
	}()
	return nil
}

// resumeClientActionCall implements submit_widget_response for a widget
// raised by a reactive client-action tool call (runToolCall's
// suspendForClientAction): the submitted value becomes that call's tool
// result, and the reactive loop resumes from its next iteration (§4.1
// transition table: SUSPENDED → PROCESSING).
func (o *Orchestrator) resumeClientActionCall(ctx context.Context, sess *Session, widgetID, value string) error {
	if sess.PendingWidgetID != widgetID {
		return errkind.Newf(errkind.InvalidState, "widget %q is not the pending widget", widgetID)
	}

	convDTO, err := o.convReads.GetConversation(ctx, sess.ConversationID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "load conversation")
	}
	messageID := ""
	for _, m := range convDTO.Messages {
		for _, tc := range m.ToolCalls {
			if tc.CallID == widgetID {
				messageID = m.ID
			}
		}
	}
	if messageID == "" {
		return errkind.Newf(errkind.InvalidState, "no tool call matches pending widget %q", widgetID)
	}

	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AddToolResult(messageID, conversation.ToolResult{CallID: widgetID, Success: true, Result: map[string]any{"value": value}}))
	}); err != nil {
		return err
	}
	sess.em.emit(ctx, EventToolCallCompleted, messageID, 0, ToolCallCompletedPayload{CallID: widgetID, Success: true, Result: map[string]any{"value": value}})

	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.ResolveClientAction(widgetID))
	}); err != nil {
		return err
	}
	sess.PendingWidgetID = ""

	if err := sess.transition(StateProcessing); err != nil {
		return err
	}

	toolDefs, toolNameToID, err := o.toolDefinitionsFor(ctx, sess)
	if err != nil {
		return err
	}
	defDTO, err := o.convReads.GetDefinition(ctx, sess.AgentDefinitionID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "load agent definition")
	}

	runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.AgentTimeout)
	sess.setRunContext(cancel)
	sess.beginTurn()
	go func() {
		defer sess.endTurn()
		defer cancel()
		var fullContent strings.Builder
		o.continueReactiveLoop(runCtx, sess, messageID, toolDefs, toolNameToID, defDTO, &fullContent, 0)
	}()
	return nil
}
