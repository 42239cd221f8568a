// Package orchestrator implements the Conversation Orchestrator (§4.1): the
// per-connection state machine that multiplexes streaming LLM text, tool
// call execution, and template-driven widget flows onto one ordered
// outbound event queue.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/access"
	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
	"github.com/bvandewe/agent-gateway/internal/ratelimit"
	"github.com/bvandewe/agent-gateway/internal/telemetry"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

// Config carries the configuration surface §6 names that bound a turn.
type Config struct {
	MaxContextMessages  int
	MaxIterations       int
	MaxToolCallsPerIter int
	AgentTimeout        time.Duration
}

// DefaultConfig returns the configuration §6 implies as sane defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextMessages:  50,
		MaxIterations:       8,
		MaxToolCallsPerIter: 8,
		AgentTimeout:        5 * time.Minute,
	}
}

// Orchestrator wires together every component the reactive and proactive
// flows drive: the conversation write side, the read models they consult,
// the tool pipeline, access resolution, the model client, and the question
// bank (§4.1, SPEC_FULL.md SUPPLEMENTED FEATURES #5).
type Orchestrator struct {
	conversations *eventstore.Repository[*conversation.Conversation]
	convReads     convstore.Store
	catalogReads  catalogstore.Store
	tools         *toolexec.Pipeline
	access        *access.Resolver
	llm           llmprovider.Client
	questions     *catalog.QuestionBank
	logger        telemetry.Logger
	limiter       *ratelimit.Limiter
	cfg           Config
}

// New constructs an Orchestrator.
func New(
	conversations *eventstore.Repository[*conversation.Conversation],
	convReads convstore.Store,
	catalogReads catalogstore.Store,
	tools *toolexec.Pipeline,
	accessResolver *access.Resolver,
	llm llmprovider.Client,
	questions *catalog.QuestionBank,
	logger telemetry.Logger,
	limiter *ratelimit.Limiter,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if questions == nil {
		questions = catalog.NewQuestionBank()
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	return &Orchestrator{
		conversations: conversations,
		convReads:     convReads,
		catalogReads:  catalogReads,
		tools:         tools,
		access:        accessResolver,
		llm:           llm,
		questions:     questions,
		logger:        logger,
		limiter:       limiter,
		cfg:           cfg,
	}
}

// OpenSession implements open_session (§4.1 public contract): creates
// in-memory session state, loads or creates the conversation aggregate,
// resolves the agent definition and (if present) template, and resolves the
// caller's accessible tool list. It returns the session's single outbound
// event channel; the first event on it is always stream_started (§6).
func (o *Orchestrator) OpenSession(ctx context.Context, connID, userID string, roles, scopes []string, claims map[string]any, conversationID, agentDefinitionID string) (*Session, <-chan Event, error) {
	if !o.limiter.TryAcquire(userID) {
		return nil, nil, errkind.Newf(errkind.RateLimited, "caller %q exceeded the concurrent-request quota", userID)
	}
	acquired := true
	defer func() {
		if acquired {
			o.limiter.Release(userID)
		}
	}()
	if conversationID == "" {
		if agentDefinitionID == "" {
			return nil, nil, errkind.New(errkind.ValidationError, "agent_definition_id is required to start a new conversation")
		}
		conversationID = uuid.NewString()
		if _, _, err := o.conversations.Execute(ctx, conversationID, false, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
			return oneEvent(conversation.Create(userID, agentDefinitionID, ""))
		}); err != nil {
			return nil, nil, err
		}
	}

	convDTO, err := o.convReads.GetConversation(ctx, conversationID)
	if err != nil {
		if err == convstore.ErrNotFound {
			return nil, nil, errkind.Newf(errkind.NotFound, "conversation %q not found", conversationID)
		}
		return nil, nil, errkind.Wrap(errkind.Internal, err, "load conversation")
	}
	if agentDefinitionID == "" {
		agentDefinitionID = convDTO.AgentDefinitionID
	}

	defDTO, err := o.convReads.GetDefinition(ctx, agentDefinitionID)
	if err != nil {
		if err == convstore.ErrNotFound {
			return nil, nil, errkind.Newf(errkind.NotFound, "agent definition %q not found", agentDefinitionID)
		}
		return nil, nil, errkind.Wrap(errkind.Internal, err, "load agent definition")
	}
	if !defDTO.Access.Allows(userID, roles, scopes) {
		return nil, nil, errkind.Newf(errkind.Forbidden, "caller may not bind a session to agent definition %q", agentDefinitionID)
	}

	// A definition with a system prompt seeds exactly one system message,
	// always first (§3 invariant 1).
	if defDTO.SystemPrompt != "" && len(convDTO.Messages) == 0 {
		if _, _, err := o.conversations.Execute(ctx, conversationID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
			if len(c.Messages) > 0 {
				return nil, nil
			}
			return oneEvent(c.AddMessage(uuid.NewString(), conversation.RoleSystem, defDTO.SystemPrompt, conversation.MessageCompleted, time.Now().UTC()))
		}); err != nil {
			return nil, nil, err
		}
	}

	accessible, err := o.access.ResolveAccessibleTools(ctx, claims)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Internal, err, "resolve accessible tools")
	}
	toolIDs := intersectToolIDs(accessible, defDTO.AllowedToolIDs)

	var tmplDTO *convstore.TemplateDTO
	if defDTO.TemplateID != "" {
		tmplDTO, err = o.convReads.GetTemplate(ctx, defDTO.TemplateID)
		if err != nil && err != convstore.ErrNotFound {
			return nil, nil, errkind.Wrap(errkind.Internal, err, "load template")
		}
	}

	requestID := uuid.NewString()
	em := newEmitter(conversationID)
	sess := newSession(connID, requestID, userID, roles, scopes, claims, conversationID, agentDefinitionID, defDTO.TemplateID, toolIDs, defDTO.StopOnError, em)

	em.emit(ctx, EventStreamStarted, "", 0, StreamStartedPayload{ConversationID: conversationID, RequestID: requestID})

	switch {
	case tmplDTO != nil && tmplDTO.AgentStartsFirst:
		// INITIALIZING → PRESENTING (§4.1: "proactive definition: template
		// with agent_starts_first=true"). Reopening mid-flow re-presents
		// the current item (§9 "Reload mid-flow"), which re-emits its
		// pending widget rather than silently advancing past it.
		if err := sess.transition(StatePresenting); err != nil {
			em.close()
			return nil, nil, err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		sess.setRunContext(cancel)
		sess.beginTurn()
		go func() {
			defer sess.endTurn()
			defer cancel()
			defer close(sess.presented)
			o.runProactiveFlow(runCtx, sess, tmplDTO, convDTO.CurrentItemIndex)
		}()
	case convDTO.PendingAction != nil:
		// INITIALIZING → SUSPENDED: no template drives this conversation,
		// but a reactive client-action tool call (runToolCall's
		// suspendForClientAction) left one pending. Re-emit it the same
		// way the proactive flow re-emits its pending widget on reload,
		// rather than stranding the caller in READY with no way to answer
		// a widget the session no longer remembers requesting.
		if err := sess.transition(StateSuspended); err != nil {
			em.close()
			return nil, nil, err
		}
		sess.PendingWidgetID = convDTO.PendingAction.WidgetID
		em.emit(ctx, EventWidgetRender, "", 0, WidgetRenderPayload{
			WidgetID: convDTO.PendingAction.WidgetID, WidgetType: convDTO.PendingAction.WidgetType, Required: true,
		})
		close(sess.presented)
	default:
		// INITIALIZING → READY (§4.1: "reactive definition: no template, or
		// template with agent_starts_first=false").
		if err := sess.transition(StateReady); err != nil {
			em.close()
			return nil, nil, err
		}
		close(sess.presented)
	}

	acquired = false // hand the slot off to CloseSession for the life of the session
	return sess, em.ch, nil
}

// Pause implements the explicit pause edge (§4.1 transition table: READY |
// PRESENTING → PAUSED). A paused session rejects user messages and widget
// responses until Resume.
func (o *Orchestrator) Pause(sess *Session) error {
	return sess.transition(StatePaused)
}

// Resume returns a paused session to READY. A proactive flow that was
// paused mid-presentation is re-presented by reopening the session, which
// replays the pending item from the persisted current_item_index.
func (o *Orchestrator) Resume(sess *Session) error {
	return sess.transition(StateReady)
}

// Cancel implements cancel(session, request_id) (§4.1 public contract).
func (o *Orchestrator) Cancel(sess *Session) {
	sess.Cancel()
}

// CloseSession implements close_session(session) (§4.1 public contract):
// cancels any in-flight turn first, then releases the outbound queue.
func (o *Orchestrator) CloseSession(sess *Session) {
	sess.Cancel()
	sess.em.close()
	o.limiter.Release(sess.UserID)
}

func intersectToolIDs(accessible, allowed []string) []string {
	if len(allowed) == 0 {
		return accessible
	}
	allowSet := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		allowSet[id] = struct{}{}
	}
	out := make([]string, 0, len(accessible))
	for _, id := range accessible {
		if _, ok := allowSet[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func oneEvent(evt eventstore.NewEvent, err error) ([]eventstore.NewEvent, error) {
	if err != nil {
		return nil, err
	}
	return []eventstore.NewEvent{evt}, nil
}

// emitError emits a structured error event and logs it (§7: "emit an error
// wire event with {kind, message, retryable}"). Store-level optimistic
// conflicts surface as CONCURRENCY_CONFLICT (§4.1 failure semantics:
// "error{kind=conflict}"), retryable by the caller with refreshed state.
func (o *Orchestrator) emitError(ctx context.Context, em *emitter, messageID string, err error) {
	kind := errkind.KindOf(err)
	retryable := errkind.IsRetryable(err)
	if errors.Is(err, eventstore.ErrConcurrencyConflictSentinel) {
		kind = errkind.ConcurrencyConflict
		retryable = true
	}
	em.emit(ctx, EventError, messageID, 0, ErrorPayload{
		Kind:      string(kind),
		Message:   err.Error(),
		Retryable: retryable,
	})
	o.logger.Error(ctx, "orchestrator turn failed", "kind", string(kind), "error", err.Error())
}
