package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/access"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
	"github.com/bvandewe/agent-gateway/internal/orchestrator"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

func weatherPolicies() staticPolicies {
	return staticPolicies{{
		Name:            "weather-users",
		Matchers:        []access.ClaimMatcher{{ClaimPath: "roles", Operator: access.OpContains, Expected: "user"}},
		AllowedGroupIDs: []string{"g1"},
		Priority:        1,
		Active:          true,
	}}
}

func seedWeatherTool(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.catReads.SaveSource(ctx, &catalogstore.SourceDTO{
		ID: "src1", Kind: catalogstore.SourceKindOpenAPI, AuthMode: catalogstore.AuthModeNone, Enabled: true,
	}))
	require.NoError(t, h.catReads.SaveTool(ctx, &catalogstore.ToolDTO{
		ID: "src1:get_weather", SourceID: "src1", ToolName: "get_weather",
		Description: "Current weather for a city",
		Definition: catalogstore.ToolDefinition{
			ToolName:    "get_weather",
			InputSchema: catalogstore.InputSchema(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
			ExecutionProfile: catalogstore.ExecutionProfile{
				Mode: catalogstore.ExecutionModeHTTP,
			},
		},
		IsEnabled: true,
		Status:    catalogstore.ToolStatusActive,
	}))
	require.NoError(t, h.catReads.SaveGroup(ctx, &catalogstore.GroupDTO{
		ID: "g1", Name: "weather", Includes: []string{"src1:get_weather"},
	}))
}

func TestReactiveHappyPath(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{turns: [][]llmprovider.Chunk{
		{textChunk("The "), textChunk("answer "), textChunk("is 4."), {Type: llmprovider.ChunkTypeStop}},
	}}
	h := newHarness(t, llm, nil, orchestrator.DefaultConfig())
	h.seedDefinition(t, &convstore.DefinitionDTO{
		ID: "def1", SystemPrompt: "You are helpful.",
		Access: convstore.AccessRules{Public: true},
	})

	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, nil, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)

	started := nextEvent(t, events)
	require.Equal(t, orchestrator.EventStreamStarted, started.Type)
	require.Equal(t, sess.ConversationID, started.Payload.(orchestrator.StreamStartedPayload).ConversationID)

	require.NoError(t, h.orch.SendUserMessage(ctx, sess, "What is 2+2?"))

	accumulated, full := collectChunksUntilComplete(t, events)
	require.Equal(t, "The answer is 4.", accumulated)
	require.Equal(t, "The answer is 4.", full)

	require.Eventually(t, func() bool { return sess.State() == orchestrator.StateReady }, testWait, testTick)

	dto, err := h.convReads.GetConversation(ctx, sess.ConversationID)
	require.NoError(t, err)
	require.Len(t, dto.Messages, 3)
	require.Equal(t, conversation.RoleSystem, dto.Messages[0].Role)
	require.Equal(t, "You are helpful.", dto.Messages[0].Content)
	require.Equal(t, conversation.RoleUser, dto.Messages[1].Role)
	require.Equal(t, "What is 2+2?", dto.Messages[1].Content)
	require.Equal(t, conversation.RoleAssistant, dto.Messages[2].Role)
	require.Equal(t, "The answer is 4.", dto.Messages[2].Content)
	require.Equal(t, conversation.MessageCompleted, dto.Messages[2].Status)
}

func TestReactiveToolCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{turns: [][]llmprovider.Chunk{
		{toolCallChunk("k1", "get_weather", `{"city":"Paris"}`), {Type: llmprovider.ChunkTypeStop}},
		{textChunk("It is 15°C and cloudy in Paris."), {Type: llmprovider.ChunkTypeStop}},
	}}
	h := newHarness(t, llm, weatherPolicies(), orchestrator.DefaultConfig())
	h.seedDefinition(t, &convstore.DefinitionDTO{
		ID: "def1", SystemPrompt: "You are helpful.",
		Access: convstore.AccessRules{Public: true},
	})
	seedWeatherTool(t, h)
	h.http.result = toolexec.Result{
		Status: toolexec.StatusCompleted,
		Result: map[string]any{"temperature": 15.0, "condition": "cloudy"},
	}

	claims := map[string]any{"roles": []any{"user"}}
	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, claims, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)
	require.Equal(t, []string{"src1:get_weather"}, sess.ResolvedToolIDs)

	require.Equal(t, orchestrator.EventStreamStarted, nextEvent(t, events).Type)
	require.NoError(t, h.orch.SendUserMessage(ctx, sess, "Weather in Paris?"))

	started := nextEvent(t, events)
	require.Equal(t, orchestrator.EventToolCallStarted, started.Type)
	startedPayload := started.Payload.(orchestrator.ToolCallStartedPayload)
	require.Equal(t, "k1", startedPayload.CallID)
	require.Equal(t, "get_weather", startedPayload.ToolName)
	require.Equal(t, "Paris", startedPayload.Arguments["city"])

	completed := nextEvent(t, events)
	require.Equal(t, orchestrator.EventToolCallCompleted, completed.Type)
	completedPayload := completed.Payload.(orchestrator.ToolCallCompletedPayload)
	require.Equal(t, "k1", completedPayload.CallID)
	require.True(t, completedPayload.Success)
	require.Equal(t, "cloudy", completedPayload.Result["condition"])

	_, full := collectChunksUntilComplete(t, events)
	require.Equal(t, "It is 15°C and cloudy in Paris.", full)

	require.Eventually(t, func() bool { return sess.State() == orchestrator.StateReady }, testWait, testTick)

	// Persisted shape: system, user, assistant (with the call), tool result.
	dto, err := h.convReads.GetConversation(ctx, sess.ConversationID)
	require.NoError(t, err)
	require.Len(t, dto.Messages, 4)
	require.Equal(t, conversation.RoleAssistant, dto.Messages[2].Role)
	require.Len(t, dto.Messages[2].ToolCalls, 1)
	require.Equal(t, "k1", dto.Messages[2].ToolCalls[0].CallID)
	require.Equal(t, conversation.RoleTool, dto.Messages[3].Role)
	require.Len(t, dto.Messages[3].ToolResults, 1)
	require.Equal(t, "k1", dto.Messages[3].ToolResults[0].CallID)
	require.True(t, dto.Messages[3].ToolResults[0].Success)
}

func TestReactiveMaxIterationsReached(t *testing.T) {
	ctx := context.Background()
	// Every turn requests another tool call, so only max_iterations can stop
	// the loop.
	turns := make([][]llmprovider.Chunk, 0, 4)
	for i := 0; i < 4; i++ {
		turns = append(turns, []llmprovider.Chunk{
			toolCallChunk("loop-call", "get_weather", `{"city":"Paris"}`),
			{Type: llmprovider.ChunkTypeStop},
		})
	}
	llm := &scriptedLLM{turns: turns}
	cfg := orchestrator.DefaultConfig()
	cfg.MaxIterations = 2
	h := newHarness(t, llm, weatherPolicies(), cfg)
	h.seedDefinition(t, &convstore.DefinitionDTO{ID: "def1", Access: convstore.AccessRules{Public: true}})
	seedWeatherTool(t, h)
	h.http.result = toolexec.Result{Status: toolexec.StatusCompleted, Result: map[string]any{"ok": true}}

	claims := map[string]any{"roles": []any{"user"}}
	sess, events, err := h.orch.OpenSession(ctx, "conn1", "user1", nil, nil, claims, "", "def1")
	require.NoError(t, err)
	defer h.orch.CloseSession(sess)
	require.Equal(t, orchestrator.EventStreamStarted, nextEvent(t, events).Type)

	require.NoError(t, h.orch.SendUserMessage(ctx, sess, "loop forever"))

	sawNotice := false
	for {
		evt := nextEvent(t, events)
		if evt.Type == orchestrator.EventError {
			require.Equal(t, "max_iterations_reached", evt.Payload.(orchestrator.ErrorPayload).Kind)
			sawNotice = true
			continue
		}
		if evt.Type == orchestrator.EventContentComplete {
			break
		}
	}
	require.True(t, sawNotice)

	// The loop halts and the assistant message is finalized completed.
	require.Eventually(t, func() bool { return sess.State() == orchestrator.StateReady }, testWait, testTick)
	dto, err := h.convReads.GetConversation(ctx, sess.ConversationID)
	require.NoError(t, err)
	require.Equal(t, conversation.RoleAssistant, dto.Messages[1].Role)
	require.Equal(t, conversation.MessageCompleted, dto.Messages[1].Status)
}
