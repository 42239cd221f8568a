package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bvandewe/agent-gateway/internal/orchestrator"
)

// wireEvent adds the sequence number §6 requires ("a long-lived connection
// carrying sequence-numbered events") around the orchestrator's Event.
type wireEvent struct {
	Seq int `json:"seq"`
	orchestrator.Event
}

// drainSSE writes every event on ch to w as a Server-Sent Events stream,
// flushing after each one so the client sees content_chunk deltas
// incrementally (§4.1: "Encoding to the concrete wire (Server-Sent Events
// in the source) is a thin serialization concern"). The exchange ends when
// the session's in-flight turn settles (every event the turn emitted is
// buffered before TurnDone fires, so the final drain loses nothing), when
// ch closes, or when the client disconnects.
func drainSSE(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session, ch <-chan orchestrator.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	seq := 0
	writeEvent := func(evt orchestrator.Event) {
		seq++
		payload, err := json.Marshal(wireEvent{Seq: seq, Event: evt})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
		if canFlush {
			flusher.Flush()
		}
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(evt)
		case <-sess.TurnDone():
			// Flush whatever the finished turn left buffered, then end the
			// exchange.
			for {
				select {
				case evt, ok := <-ch:
					if !ok {
						return
					}
					writeEvent(evt)
				default:
					return
				}
			}
		case <-r.Context().Done():
			return
		}
	}
}
