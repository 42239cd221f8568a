package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/orchestrator"
)

func quizTemplate() *convstore.TemplateDTO {
	return &convstore.TemplateDTO{
		ID:                      "tmpl1",
		AgentStartsFirst:        true,
		IncludeFeedback:         true,
		DisplayFinalScoreReport: true,
		HasPassingScore:         true,
		PassingScorePercent:     50,
		IntroductionMessage:     "Welcome!",
		CompletionMessage:       "Done!",
		Items: []convstore.Item{
			{
				ID: "item1", Title: "Item 1",
				Contents: []convstore.ItemContent{{
					ID: "w1", Order: 0, WidgetType: convstore.WidgetMultipleChoice,
					Stem: "2+2=?", Options: []string{"3", "4", "5"},
					CorrectAnswer: "4", Required: true,
				}},
			},
			{
				ID: "item2", Title: "Item 2",
				Contents: []convstore.ItemContent{{
					ID: "w2", Order: 0, WidgetType: convstore.WidgetFreeText,
					Stem: "Explain", Required: true,
				}},
				EnableChatInput: true,
			},
		},
	}
}

func TestProactiveTemplateFlow(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{completeText: `{"correct": true, "feedback": "Nice work."}`}
	h := newHarness(t, llm, nil, orchestrator.DefaultConfig())
	h.seedDefinition(t, &convstore.DefinitionDTO{
		ID: "def1", TemplateID: "tmpl1",
		Access: convstore.AccessRules{Public: true},
	})
	h.seedTemplate(t, quizTemplate())

	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, nil, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)

	require.Equal(t, orchestrator.EventStreamStarted, nextEvent(t, events).Type)
	require.Equal(t, orchestrator.EventFlowStarted, nextEvent(t, events).Type)

	initialChat := nextEvent(t, events)
	require.Equal(t, orchestrator.EventChatInputEnabled, initialChat.Type)
	require.False(t, initialChat.Payload.(orchestrator.ChatInputEnabledPayload).Enabled)

	_, intro := collectChunksUntilComplete(t, events)
	require.Equal(t, "Welcome!", intro)

	itemCtx := nextEvent(t, events)
	require.Equal(t, orchestrator.EventItemContext, itemCtx.Type)
	itemPayload := itemCtx.Payload.(orchestrator.ItemContextPayload)
	require.Equal(t, 0, itemPayload.Index)
	require.Equal(t, 2, itemPayload.Total)
	require.Equal(t, "Item 1", itemPayload.Title)

	render := nextEvent(t, events)
	require.Equal(t, orchestrator.EventWidgetRender, render.Type)
	renderPayload := render.Payload.(orchestrator.WidgetRenderPayload)
	require.Equal(t, "w1", renderPayload.WidgetID)
	require.Equal(t, string(convstore.WidgetMultipleChoice), renderPayload.WidgetType)
	require.Equal(t, []string{"3", "4", "5"}, renderPayload.Options)
	require.True(t, renderPayload.Required)

	chat := nextEvent(t, events)
	require.Equal(t, orchestrator.EventChatInputEnabled, chat.Type)
	require.False(t, chat.Payload.(orchestrator.ChatInputEnabledPayload).Enabled)

	awaitPendingWidget(t, h.convReads, sess.ConversationID, "w1")
	require.Equal(t, orchestrator.StateSuspended, sess.State())
	require.NoError(t, h.orch.SubmitWidgetResponse(ctx, sess, "w1", "4"))

	ack := nextEvent(t, events)
	require.Equal(t, orchestrator.EventWidgetResponseAck, ack.Type)
	require.Equal(t, "w1", ack.Payload.(orchestrator.WidgetResponseAckPayload).WidgetID)

	_, feedback := collectChunksUntilComplete(t, events)
	require.Equal(t, "Nice work.", feedback)

	itemCtx2 := nextEvent(t, events)
	require.Equal(t, orchestrator.EventItemContext, itemCtx2.Type)
	require.Equal(t, 1, itemCtx2.Payload.(orchestrator.ItemContextPayload).Index)

	render2 := nextEvent(t, events)
	require.Equal(t, orchestrator.EventWidgetRender, render2.Type)
	require.Equal(t, "w2", render2.Payload.(orchestrator.WidgetRenderPayload).WidgetID)
	require.Equal(t, string(convstore.WidgetFreeText), render2.Payload.(orchestrator.WidgetRenderPayload).WidgetType)

	chat2 := nextEvent(t, events)
	require.Equal(t, orchestrator.EventChatInputEnabled, chat2.Type)
	require.True(t, chat2.Payload.(orchestrator.ChatInputEnabledPayload).Enabled)

	awaitPendingWidget(t, h.convReads, sess.ConversationID, "w2")
	require.NoError(t, h.orch.SubmitWidgetResponse(ctx, sess, "w2", "two plus two"))

	ack2 := nextEvent(t, events)
	require.Equal(t, orchestrator.EventWidgetResponseAck, ack2.Type)
	require.Equal(t, "w2", ack2.Payload.(orchestrator.WidgetResponseAckPayload).WidgetID)

	_, completion := collectChunksUntilComplete(t, events)
	require.Equal(t, "Done!", completion)

	done := nextEvent(t, events)
	require.Equal(t, orchestrator.EventFlowCompleted, done.Type)
	donePayload := done.Payload.(orchestrator.FlowCompletedPayload)
	require.True(t, donePayload.Completed)
	require.Equal(t, 1.0, donePayload.ScoreEarned)
	require.Equal(t, 1.0, donePayload.ScorePossible)
	require.Equal(t, 100.0, donePayload.ScorePercent)
	require.NotNil(t, donePayload.Passed)
	require.True(t, *donePayload.Passed)

	hide := nextEvent(t, events)
	require.Equal(t, orchestrator.EventChatInputEnabled, hide.Type)
	require.True(t, hide.Payload.(orchestrator.ChatInputEnabledPayload).HideAll)

	require.Eventually(t, func() bool { return sess.State() == orchestrator.StateCompleted }, testWait, testTick)

	dto, err := h.convReads.GetConversation(ctx, sess.ConversationID)
	require.NoError(t, err)
	require.Equal(t, 2, dto.CurrentItemIndex)
	require.Equal(t, conversation.StatusCompleted, dto.Status)
}

func TestProactiveWidgetResponseRejectedOutsideSuspension(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	h := newHarness(t, llm, nil, orchestrator.DefaultConfig())
	h.seedDefinition(t, &convstore.DefinitionDTO{ID: "def1", Access: convstore.AccessRules{Public: true}})

	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, nil, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)
	require.Equal(t, orchestrator.EventStreamStarted, nextEvent(t, events).Type)
	require.Equal(t, orchestrator.StateReady, sess.State())

	err = h.orch.SubmitWidgetResponse(ctx, sess, "w1", "4")
	require.Error(t, err)
}

func TestProactiveZeroItemTemplateCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	h := newHarness(t, llm, nil, orchestrator.DefaultConfig())
	h.seedDefinition(t, &convstore.DefinitionDTO{
		ID: "def1", TemplateID: "tmpl-empty",
		Access: convstore.AccessRules{Public: true},
	})
	h.seedTemplate(t, &convstore.TemplateDTO{ID: "tmpl-empty", AgentStartsFirst: true})

	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, nil, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)

	require.Equal(t, orchestrator.EventStreamStarted, nextEvent(t, events).Type)
	require.Equal(t, orchestrator.EventFlowStarted, nextEvent(t, events).Type)
	require.Equal(t, orchestrator.EventChatInputEnabled, nextEvent(t, events).Type)

	done := nextEvent(t, events)
	require.Equal(t, orchestrator.EventFlowCompleted, done.Type)
	require.True(t, done.Payload.(orchestrator.FlowCompletedPayload).Completed)

	require.Eventually(t, func() bool { return sess.State() == orchestrator.StateCompleted }, testWait, testTick)
}
