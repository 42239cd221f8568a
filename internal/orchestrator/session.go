package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// Session is the Orchestrator's ephemeral, in-memory per-connection state
// (§3 "Session State"): never persisted, rebuilt on reconnect from the
// conversation aggregate's durable state.
type Session struct {
	mu sync.Mutex

	ConnectionID      string
	RequestID         string
	UserID            string
	Roles             []string
	Scopes            []string
	Claims            map[string]any
	ConversationID    string
	AgentDefinitionID string
	TemplateID        string
	ResolvedToolIDs   []string
	StopOnError       bool

	state State

	// partial accumulates the in-flight assistant message's streamed text
	// (§3: "accumulated partial content buffer").
	partial strings.Builder
	// currentMessageID names the in-flight assistant message, empty when
	// idle.
	currentMessageID string

	// PendingWidgetID names the single widget currently awaiting a client
	// response, empty when none is pending (§3: "pending widget id").
	PendingWidgetID string
	// pendingToolCallID names an in-flight tool call awaiting its result
	// (§3: "pending tool-call-id").
	pendingToolCallID string

	// item holds proactive-flow-only per-item bookkeeping; nil outside
	// PRESENTING/SUSPENDED.
	item *itemState

	// ScoreEarned/ScorePossible accumulate §4.1.1 scoring across items.
	ScoreEarned   float64
	ScorePossible float64

	em     *emitter
	cancel context.CancelFunc

	// turnDone, when non-nil, is closed once the in-flight turn's goroutine
	// has emitted its last event and settled the session state; nil when no
	// turn is running.
	turnDone chan struct{}

	// presented closes once OpenSession's synchronous-in-goroutine
	// reconstruction (the proactive flow replaying up to the current item,
	// or the plain READY transition) has run its course, so a caller
	// resuming a suspended widget cannot race SubmitWidgetResponse against
	// the re-presentation that recomputes PendingWidgetID (§9 "Reload
	// mid-flow": re-emit the in-progress widget, do not silently advance).
	presented chan struct{}
}

// itemState tracks which widgets of the current template item still await a
// response (§4.1 proactive flow step 6: "record it in per-item state").
type itemState struct {
	itemIndex int
	item      conversation.Item
	// contents indexes the item's interactive widgets by widget id for
	// scoring lookups (§4.1.1).
	contents map[string]conversation.ItemContent
	// pending lists widget ids still awaiting a response, in presentation
	// order; the synthetic confirmation widget id (if any) is last.
	pending []string
	// answered records each resolved widget's submitted value, keyed by
	// widget id.
	answered map[string]string
}

func newSession(connID, requestID, userID string, roles, scopes []string, claims map[string]any, conversationID, agentDefinitionID, templateID string, toolIDs []string, stopOnError bool, em *emitter) *Session {
	return &Session{
		ConnectionID:      connID,
		RequestID:         requestID,
		UserID:            userID,
		Roles:             roles,
		Scopes:            scopes,
		Claims:            claims,
		ConversationID:    conversationID,
		AgentDefinitionID: agentDefinitionID,
		TemplateID:        templateID,
		ResolvedToolIDs:   toolIDs,
		StopOnError:       stopOnError,
		state:             StateInitializing,
		em:                em,
		presented:         make(chan struct{}),
	}
}

// State returns the session's current orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to next. An invalid edge leaves the state
// unchanged and returns an INVALID_STATE error; transition itself does not
// log the rejection.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		return errkind.Newf(errkind.InvalidState, "cannot transition from %s to %s", s.state, next)
	}
	s.state = next
	return nil
}

func (s *Session) setRunContext(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel marks the in-flight turn cancelled (§4.1 public contract: "cancel
// (session, request_id)... the streaming loop checks this flag at each
// chunk boundary").
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Events returns the session's single outbound event channel (§5: "a
// per-connection outbound queue"). The channel is closed by CloseSession.
func (s *Session) Events() <-chan Event {
	return s.em.ch
}

// beginTurn marks a turn goroutine as in flight. Exactly one turn runs at a
// time; the state machine rejects overlapping starts before this is reached.
func (s *Session) beginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnDone = make(chan struct{})
}

// endTurn marks the in-flight turn finished. Every event the turn emitted is
// already buffered on the outbound queue by the time this closes the channel.
func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnDone != nil {
		close(s.turnDone)
		s.turnDone = nil
	}
}

var noTurn = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// TurnDone returns a channel that is closed once no turn goroutine is in
// flight. The SSE layer selects on it to know when the current exchange has
// produced its last event.
func (s *Session) TurnDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnDone == nil {
		return noTurn
	}
	return s.turnDone
}

// AwaitPresented blocks until OpenSession's reconstruction has finished
// settling the session into its post-open state (SUSPENDED with
// PendingWidgetID set, READY, or a terminal state), or ctx is done.
// SubmitWidgetResponse calls this first so a freshly reopened session has
// actually replayed its pending widget before a response is matched
// against it.
func (s *Session) AwaitPresented(ctx context.Context) error {
	select {
	case <-s.presented:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
