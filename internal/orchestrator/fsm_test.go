package orchestrator

import "testing"

func TestInitializingTransitions(t *testing.T) {
	if !StateInitializing.CanTransitionTo(StateReady) {
		t.Error("reactive definition must reach READY")
	}
	if !StateInitializing.CanTransitionTo(StatePresenting) {
		t.Error("proactive definition must reach PRESENTING")
	}
	if !StateInitializing.CanTransitionTo(StateSuspended) {
		t.Error("reopening a session with a reactive client action already pending must reach SUSPENDED directly")
	}
}

func TestReadyProcessingRoundTrip(t *testing.T) {
	if !StateReady.CanTransitionTo(StateProcessing) {
		t.Error("user message must move READY -> PROCESSING")
	}
	if !StateProcessing.CanTransitionTo(StateReady) {
		t.Error("turn with no tool calls must return to READY")
	}
	if !StateProcessing.CanTransitionTo(StateSuspended) {
		t.Error("a client-action tool call must suspend")
	}
}

func TestSuspendedAdvancesOrCompletes(t *testing.T) {
	if !StateSuspended.CanTransitionTo(StatePresenting) {
		t.Error("valid widget response with items remaining must re-present")
	}
	if !StateSuspended.CanTransitionTo(StateReady) {
		t.Error("all required widgets answered with no items left must reach READY")
	}
	if !StateSuspended.CanTransitionTo(StateProcessing) {
		t.Error("a resolved reactive client action must resume the reactive loop in PROCESSING")
	}
}

func TestPauseIsOnlyFromReadyOrPresenting(t *testing.T) {
	if !StateReady.CanTransitionTo(StatePaused) {
		t.Error("READY must support explicit pause")
	}
	if !StatePresenting.CanTransitionTo(StatePaused) {
		t.Error("PRESENTING must support explicit pause")
	}
	if StateProcessing.CanTransitionTo(StatePaused) {
		t.Error("PROCESSING must not support explicit pause directly")
	}
	if StateSuspended.CanTransitionTo(StatePaused) {
		t.Error("SUSPENDED must not support explicit pause directly")
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	if StateCompleted.CanTransitionTo(StateReady) {
		t.Error("COMPLETED is terminal")
	}
	if StateError.CanTransitionTo(StateReady) {
		t.Error("ERROR is terminal")
	}
	if !StateCompleted.Terminal() || !StateError.Terminal() {
		t.Error("COMPLETED and ERROR must report Terminal()")
	}
}

func TestAnyNonTerminalCanReachCompletedOrError(t *testing.T) {
	for _, s := range []State{StateInitializing, StateReady, StateProcessing, StatePresenting, StateSuspended, StatePaused} {
		if !s.CanTransitionTo(StateCompleted) {
			t.Errorf("%s must be able to reach COMPLETED", s)
		}
		if !s.CanTransitionTo(StateError) {
			t.Errorf("%s must be able to reach ERROR", s)
		}
	}
}
