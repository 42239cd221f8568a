package orchestrator_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/access"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	catmemory "github.com/bvandewe/agent-gateway/internal/catalog/store/memory"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	convmemory "github.com/bvandewe/agent-gateway/internal/conversation/store/memory"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	esmemory "github.com/bvandewe/agent-gateway/internal/eventstore/memory"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
	"github.com/bvandewe/agent-gateway/internal/orchestrator"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

// scriptedLLM replays one scripted chunk sequence per Stream call, in order,
// and a fixed text response for Complete (used by the grading path).
type scriptedLLM struct {
	mu           sync.Mutex
	turns        [][]llmprovider.Chunk
	next         int
	completeText string
}

func (s *scriptedLLM) Complete(ctx context.Context, req *llmprovider.Request) (*llmprovider.Response, error) {
	return &llmprovider.Response{Message: llmprovider.Message{
		Role:  llmprovider.RoleAssistant,
		Parts: []llmprovider.Part{llmprovider.TextPart{Text: s.completeText}},
	}}, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req *llmprovider.Request) (llmprovider.Streamer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.turns) {
		return &scriptedStream{}, nil
	}
	st := &scriptedStream{chunks: s.turns[s.next]}
	s.next++
	return st, nil
}

type scriptedStream struct {
	chunks []llmprovider.Chunk
	i      int
}

func (s *scriptedStream) Recv() (llmprovider.Chunk, error) {
	if s.i >= len(s.chunks) {
		return llmprovider.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }

type stubTransport struct {
	mu     sync.Mutex
	result toolexec.Result
	calls  int
}

func (s *stubTransport) Dispatch(ctx context.Context, tool *catalogstore.ToolDTO, source *catalogstore.SourceDTO, arguments map[string]any, bearer string) (toolexec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, nil
}

type staticPolicies []*access.Policy

func (s staticPolicies) ListActivePolicies(ctx context.Context) ([]*access.Policy, error) {
	return []*access.Policy(s), nil
}

type harness struct {
	orch      *orchestrator.Orchestrator
	convReads *convmemory.Store
	catReads  *catmemory.Store
	llm       *scriptedLLM
	http      *stubTransport
}

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

func newHarness(t *testing.T, llm *scriptedLLM, policies staticPolicies, cfg orchestrator.Config) *harness {
	t.Helper()
	es := esmemory.New()
	convReads := convmemory.New()
	bus := eventstore.NewBus()
	require.NoError(t, bus.Register(conversation.NewConversationProjection(convReads)))
	repo := eventstore.NewRepository(es, bus, conversation.ConversationAggregateType, func(id string) *conversation.Conversation {
		return conversation.New(id).(*conversation.Conversation)
	})

	catReads := catmemory.New()
	http := &stubTransport{}
	pipeline := toolexec.New(catReads, nil, http, &stubTransport{}, nil)
	resolver := access.NewResolver(policies, catReads, nil, nil, 0)

	orch := orchestrator.New(repo, convReads, catReads, pipeline, resolver, llm, nil, nil, nil, cfg)
	return &harness{orch: orch, convReads: convReads, catReads: catReads, llm: llm, http: http}
}

func (h *harness) seedDefinition(t *testing.T, dto *convstore.DefinitionDTO) {
	t.Helper()
	require.NoError(t, h.convReads.SaveDefinition(context.Background(), dto))
}

func (h *harness) seedTemplate(t *testing.T, dto *convstore.TemplateDTO) {
	t.Helper()
	require.NoError(t, h.convReads.SaveTemplate(context.Background(), dto))
}

func nextEvent(t *testing.T, ch <-chan orchestrator.Event) orchestrator.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed before the expected event arrived")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return orchestrator.Event{}
	}
}

// collectChunksUntilComplete reads content_chunk events off ch until the
// matching content_complete, returning the concatenated deltas and the final
// full content.
func collectChunksUntilComplete(t *testing.T, ch <-chan orchestrator.Event) (accumulated, full string) {
	t.Helper()
	for {
		evt := nextEvent(t, ch)
		switch evt.Type {
		case orchestrator.EventContentChunk:
			accumulated += evt.Payload.(orchestrator.ContentChunkPayload).Text
		case orchestrator.EventContentComplete:
			return accumulated, evt.Payload.(orchestrator.ContentCompletePayload).FullContent
		default:
			t.Fatalf("unexpected event %s while streaming content", evt.Type)
		}
	}
}

// awaitPendingWidget blocks until the conversation read model shows widgetID
// as the pending client action, so a test never submits a response ahead of
// the flow goroutine recording what it is waiting for.
func awaitPendingWidget(t *testing.T, reads *convmemory.Store, conversationID, widgetID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		dto, err := reads.GetConversation(context.Background(), conversationID)
		if err != nil {
			return false
		}
		return dto.PendingAction != nil && dto.PendingAction.WidgetID == widgetID
	}, 2*time.Second, 5*time.Millisecond)
}

func textChunk(delta string) llmprovider.Chunk {
	return llmprovider.Chunk{Type: llmprovider.ChunkTypeText, TextDelta: delta}
}

func toolCallChunk(id, name, input string) llmprovider.Chunk {
	return llmprovider.Chunk{Type: llmprovider.ChunkTypeToolCall, ToolCall: &llmprovider.ToolUsePart{
		ID: id, Name: name, Input: []byte(input),
	}}
}
