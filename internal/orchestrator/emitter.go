package orchestrator

import "context"

// emitter is the Orchestrator's task+channel bridge from an in-flight
// turn's goroutine to the session's outbound queue (§9 design note:
// "Coroutines/async in source → explicit task + channel model... Use
// per-session cancellation signals"; grounded on the same run()-goroutine-
// pumps-a-buffered-channel shape used by internal/llmprovider's streamers,
// and on the teacher's runtime/agent/stream.Sink push model).
//
// A bounded buffer lets a fast producer (text deltas) run ahead of a slow
// consumer (the SSE write loop) without unbounded memory growth; send
// blocks once the buffer is full, naturally applying backpressure to the
// turn's goroutine.
type emitter struct {
	ch             chan Event
	conversationID string
}

func newEmitter(conversationID string) *emitter {
	return &emitter{ch: make(chan Event, 64), conversationID: conversationID}
}

// emit sends evt, aborting early if ctx is cancelled so a cancelled turn
// does not deadlock trying to fill a buffer nobody drains anymore.
func (e *emitter) emit(ctx context.Context, typ EventType, messageID string, iteration int, payload any) {
	evt := Event{Type: typ, ConversationID: e.conversationID, MessageID: messageID, Iteration: iteration, Payload: payload}
	select {
	case e.ch <- evt:
	case <-ctx.Done():
	}
}

func (e *emitter) close() {
	close(e.ch)
}
