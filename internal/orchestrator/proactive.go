package orchestrator

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
)

// runProactiveFlow implements §4.1's proactive, template-driven flow: send
// the introduction, then present items one at a time until the template is
// exhausted.
func (o *Orchestrator) runProactiveFlow(ctx context.Context, sess *Session, tmplDTO *convstore.TemplateDTO, startItemIndex int) {
	em := sess.em
	em.emit(ctx, EventFlowStarted, "", 0, nil)
	em.emit(ctx, EventChatInputEnabled, "", 0, ChatInputEnabledPayload{Enabled: tmplDTO.EnableChatInputInitially})

	if startItemIndex == 0 && tmplDTO.IntroductionMessage != "" {
		if err := o.sendVirtualMessage(ctx, sess, "introduction", tmplDTO.IntroductionMessage); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
	}

	o.presentItem(ctx, sess, tmplDTO, startItemIndex)
}

// presentItem implements proactive flow steps 2-5: load the item at index,
// emit its context, render every content in ascending order, request a
// response for the first interactive widget (if any), and suspend.
func (o *Orchestrator) presentItem(ctx context.Context, sess *Session, tmplDTO *convstore.TemplateDTO, itemIndex int) {
	em := sess.em

	if itemIndex >= len(tmplDTO.Items) {
		o.finishFlow(ctx, sess, tmplDTO)
		return
	}

	if sess.State() != StatePresenting {
		if err := sess.transition(StatePresenting); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
	}

	item := tmplDTO.Items[itemIndex]
	total := len(tmplDTO.Items)
	progress := 0.0
	if total > 0 {
		progress = float64(itemIndex) / float64(total) * 100
	}
	em.emit(ctx, EventItemContext, "", 0, ItemContextPayload{
		ItemID: item.ID, Title: item.Title, Index: itemIndex, Total: total, ProgressPercent: progress,
	})

	contents := append([]conversation.ItemContent(nil), item.Contents...)
	sort.Slice(contents, func(i, j int) bool { return contents[i].Order < contents[j].Order })

	st := &itemState{itemIndex: itemIndex, item: item, contents: make(map[string]conversation.ItemContent), answered: make(map[string]string)}
	sess.PendingWidgetID = ""

	for _, content := range contents {
		stem := content.Stem
		if content.IsTemplated {
			if cached, ok := o.questions.Lookup(content.SourceID, content.ID); ok {
				stem = cached
			} else if content.GenerationPrompt != "" {
				generated, err := o.generateStem(ctx, sess, content.GenerationPrompt)
				if err != nil {
					o.failTurn(ctx, sess, "", err)
					return
				}
				stem = generated
			}
		}

		if content.WidgetType == conversation.WidgetMessage {
			if err := o.sendVirtualMessage(ctx, sess, "", stem); err != nil {
				o.failTurn(ctx, sess, "", err)
				return
			}
			continue
		}

		required := content.Required && content.WidgetType.RequiresResponse()
		em.emit(ctx, EventWidgetRender, "", 0, WidgetRenderPayload{
			WidgetID: content.ID, WidgetType: string(content.WidgetType), Stem: stem,
			Options: content.Options, InitialValue: content.InitialValue, Required: required,
		})

		content.Stem = stem
		st.contents[content.ID] = content
		if required {
			st.pending = append(st.pending, content.ID)
		}
	}

	if item.RequireUserConfirmation {
		confirmID := item.ID + "::confirm"
		em.emit(ctx, EventWidgetRender, "", 0, WidgetRenderPayload{
			WidgetID: confirmID, WidgetType: string(conversation.WidgetButton), Stem: "Confirm to continue", Required: true,
		})
		st.contents[confirmID] = conversation.ItemContent{ID: confirmID, WidgetType: conversation.WidgetButton, Required: true}
		st.pending = append(st.pending, confirmID)
	}

	sess.item = st

	if err := sess.transition(StateSuspended); err != nil {
		o.failTurn(ctx, sess, "", err)
		return
	}
	em.emit(ctx, EventChatInputEnabled, "", 0, ChatInputEnabledPayload{Enabled: item.EnableChatInput})

	if len(st.pending) > 0 {
		if err := o.requestWidget(ctx, sess, st.pending[0]); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
		return
	}

	o.advanceItem(ctx, sess, tmplDTO)
}

// requestWidget records the front of the item's pending queue as the
// Conversation aggregate's pending client action (§3 invariant 4) and marks
// it the session's awaited widget (§3 "pending widget id").
func (o *Orchestrator) requestWidget(ctx context.Context, sess *Session, widgetID string) error {
	content := sess.item.contents[widgetID]
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		if c.PendingAction != nil && c.PendingAction.WidgetID == widgetID {
			// Reopened mid-flow: the aggregate already awaits this widget.
			return nil, nil
		}
		return oneEvent(c.RequestClientAction(conversation.ClientAction{
			WidgetID: widgetID, WidgetType: string(content.WidgetType), ItemID: sess.item.item.ID,
		}))
	}); err != nil {
		return err
	}
	sess.PendingWidgetID = widgetID
	return nil
}

// handleWidgetResponse implements proactive flow step 6: record the
// response, and either await the next widget in the item or advance.
func (o *Orchestrator) handleWidgetResponse(ctx context.Context, sess *Session, tmplDTO *convstore.TemplateDTO, widgetID, value string) error {
	sess.item.answered[widgetID] = value
	sess.item.pending = sess.item.pending[1:]

	sess.em.emit(ctx, EventWidgetResponseAck, "", 0, WidgetResponseAckPayload{WidgetID: widgetID, Accepted: true})

	if len(sess.item.pending) > 0 {
		return o.requestWidget(ctx, sess, sess.item.pending[0])
	}

	sess.PendingWidgetID = ""
	o.advanceItem(ctx, sess, tmplDTO)
	return nil
}

// advanceItem implements proactive flow step 7: score the completed item,
// persist the new current_item_index, and present what comes next.
func (o *Orchestrator) advanceItem(ctx context.Context, sess *Session, tmplDTO *convstore.TemplateDTO) {
	item := sess.item.item
	earned, possible, feedback := o.scoreItem(ctx, sess, tmplDTO.IncludeFeedback, item)
	sess.ScoreEarned += earned
	sess.ScorePossible += possible
	for _, note := range feedback {
		if err := o.sendVirtualMessage(ctx, sess, "feedback", note); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
	}

	nextIndex := sess.item.itemIndex + 1
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AdvanceTemplate(nextIndex, len(tmplDTO.Items)))
	}); err != nil {
		o.failTurn(ctx, sess, "", err)
		return
	}

	sess.item = nil
	o.presentItem(ctx, sess, tmplDTO, nextIndex)
}

// finishFlow implements the terminal half of proactive flow step 7: the
// completion message, optional score report, and the READY/COMPLETED exit.
func (o *Orchestrator) finishFlow(ctx context.Context, sess *Session, tmplDTO *convstore.TemplateDTO) {
	if tmplDTO.CompletionMessage != "" {
		if err := o.sendVirtualMessage(ctx, sess, "completion", tmplDTO.CompletionMessage); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
	}

	payload := FlowCompletedPayload{Completed: true}
	if tmplDTO.DisplayFinalScoreReport && sess.ScorePossible > 0 {
		percent := sess.ScoreEarned / sess.ScorePossible * 100
		payload.ScoreEarned = sess.ScoreEarned
		payload.ScorePossible = sess.ScorePossible
		payload.ScorePercent = percent
		if tmplDTO.HasPassingScore {
			passed := percent >= tmplDTO.PassingScorePercent
			payload.Passed = &passed
		}
	}
	sess.em.emit(ctx, EventFlowCompleted, "", 0, payload)

	if sess.State() == StatePresenting {
		if err := sess.transition(StateSuspended); err != nil {
			o.failTurn(ctx, sess, "", err)
			return
		}
	}

	if tmplDTO.ContinueAfterCompletion {
		sess.em.emit(ctx, EventChatInputEnabled, "", 0, ChatInputEnabledPayload{Enabled: true})
		if err := sess.transition(StateReady); err != nil {
			o.failTurn(ctx, sess, "", err)
		}
		return
	}

	sess.em.emit(ctx, EventChatInputEnabled, "", 0, ChatInputEnabledPayload{Enabled: false, HideAll: true})
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.Complete(""))
	}); err != nil {
		o.failTurn(ctx, sess, "", err)
		return
	}
	if err := sess.transition(StateCompleted); err != nil {
		o.failTurn(ctx, sess, "", err)
	}
}

// sendVirtualMessage persists and streams a non-user-authored message (§9
// SUPPLEMENTED FEATURES #2: introduction/completion/feedback text, and
// plain "message" widget content).
func (o *Orchestrator) sendVirtualMessage(ctx context.Context, sess *Session, messageType, content string) error {
	id := uuid.NewString()
	if _, _, err := o.conversations.Execute(ctx, sess.ConversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		return oneEvent(c.AppendVirtualMessage(id, content, messageType, time.Now().UTC()))
	}); err != nil {
		return err
	}
	sess.em.emit(ctx, EventContentChunk, id, 0, ContentChunkPayload{Text: content})
	sess.em.emit(ctx, EventContentComplete, id, 0, ContentCompletePayload{FullContent: content})
	return nil
}

// generateStem implements the templated-stem half of proactive flow step 3:
// stream an LLM completion of a content's generation_prompt the same way
// reactive assistant text streams.
func (o *Orchestrator) generateStem(ctx context.Context, sess *Session, prompt string) (string, error) {
	stream, err := o.llm.Stream(ctx, &llmprovider.Request{
		Messages: []llmprovider.Message{{Role: llmprovider.RoleUser, Parts: []llmprovider.Part{llmprovider.TextPart{Text: prompt}}}},
		Stream:   true,
	})
	if err != nil {
		return "", errkind.Wrap(errkind.UpstreamError, err, "generate item stem")
	}
	defer stream.Close()

	id := uuid.NewString()
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errkind.Wrap(errkind.UpstreamError, err, "generate item stem")
		}
		if chunk.Type == llmprovider.ChunkTypeText && chunk.TextDelta != "" {
			sb.WriteString(chunk.TextDelta)
			sess.em.emit(ctx, EventContentChunk, id, 0, ContentChunkPayload{Text: chunk.TextDelta})
		}
	}
	text := sb.String()
	sess.em.emit(ctx, EventContentComplete, id, 0, ContentCompletePayload{FullContent: text})
	return text, nil
}
