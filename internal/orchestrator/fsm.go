package orchestrator

// State enumerates the Orchestrator's per-connection finite state machine
// (§4.1 "States").
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateProcessing   State = "PROCESSING"
	StatePresenting   State = "PRESENTING"
	StateSuspended    State = "SUSPENDED"
	StatePaused       State = "PAUSED"
	StateCompleted    State = "COMPLETED"
	StateError        State = "ERROR"
)

// transitions encodes the validated edges of §4.1's state machine. An edge
// absent here is rejected without state change: Session.transition returns
// an INVALID_STATE error and does not log it.
var transitions = map[State]map[State]bool{
	// Initializing → Suspended covers OpenSession reconstructing a session
	// whose conversation already carries a pending client action from a
	// reactive tool call (no template involved, so Presenting never
	// applies): §9 "Reload mid-flow" applies uniformly to both the
	// proactive and reactive suspension sources.
	StateInitializing: {StateReady: true, StatePresenting: true, StateSuspended: true},
	StateReady:        {StateProcessing: true, StatePaused: true},
	StateProcessing:   {StateReady: true, StateSuspended: true},
	StatePresenting:   {StateSuspended: true, StatePaused: true},
	// Suspended → Processing: a client-action tool call's response resumes
	// the reactive loop (the symmetric edge to Processing → Suspended).
	StateSuspended: {StatePresenting: true, StateReady: true, StateProcessing: true},
	StatePaused:    {StateReady: true, StatePresenting: true},
	StateCompleted: {},
	StateError:     {},
}

func init() {
	// "Any non-terminal → COMPLETED on normal end; any → ERROR on
	// unrecoverable failure" (§4.1).
	for s, edges := range transitions {
		if s.Terminal() {
			continue
		}
		edges[StateCompleted] = true
		edges[StateError] = true
	}
}

// CanTransitionTo reports whether next is a validated edge from s.
func (s State) CanTransitionTo(next State) bool {
	return transitions[s][next]
}

// Terminal reports whether s accepts no further transitions (§4.1:
// "COMPLETED and ERROR are terminal").
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}
