package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// chatSendRequest is the wire shape of POST /chat/send (§6): the user's
// message and the session it belongs to, or the agent definition to start a
// fresh conversation from.
type chatSendRequest struct {
	Message           string   `json:"message"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	AgentDefinitionID string   `json:"agent_definition_id,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`
}

// handleChatSend opens (or resumes) a session, submits the message, and
// streams the resulting events back over SSE (§4.1, §6). The request_id in
// the stream's stream_started event is the handle POST /chat/cancel/{id}
// uses to interrupt the turn.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, errkind.New(errkind.Unauthorized, "no identity on request"))
		return
	}

	var req chatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	// A proactive session opens with just an agent definition; a reactive
	// one needs a message or an existing conversation to resume.
	if req.Message == "" && req.ConversationID == "" && req.AgentDefinitionID == "" {
		writeError(w, errkind.New(errkind.ValidationError, "message is required"))
		return
	}

	connID := chi.URLParam(r, "connection_id")
	if connID == "" {
		connID = id.UserID
	}

	sess, events, err := s.orchestrator.OpenSession(r.Context(), connID, id.UserID, id.Roles, id.Scopes, claimsWithToken(id), req.ConversationID, req.AgentDefinitionID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.sessions.register(sess.RequestID, func() { s.orchestrator.Cancel(sess) })
	defer s.sessions.unregister(sess.RequestID)
	defer s.orchestrator.CloseSession(sess)

	if req.Message != "" {
		sendCtx, cancel := context.WithCancel(r.Context())
		defer cancel()
		if err := s.orchestrator.SendUserMessage(sendCtx, sess, req.Message); err != nil {
			writeError(w, err)
			return
		}
	}

	drainSSE(w, r, sess, events)
}

// chatWidgetRequest is the wire shape of POST /chat/widget/{widget_id}
// (§4.1 public contract: "submit_widget_response(session, widget_id,
// value)").
type chatWidgetRequest struct {
	ConversationID string `json:"conversation_id"`
	Value          string `json:"value"`
}

// handleChatWidget implements submit_widget_response (§4.1, §6): reopens
// the session the widget_id's conversation belongs to (re-presenting and
// re-emitting the pending widget per §9 "Reload mid-flow" if the session
// had gone cold), resolves the response, and streams the resumed turn's
// events back over SSE.
func (s *Server) handleChatWidget(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, errkind.New(errkind.Unauthorized, "no identity on request"))
		return
	}

	widgetID := chi.URLParam(r, "widget_id")

	var req chatWidgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	if req.ConversationID == "" {
		writeError(w, errkind.New(errkind.ValidationError, "conversation_id is required"))
		return
	}

	connID := chi.URLParam(r, "connection_id")
	if connID == "" {
		connID = id.UserID
	}

	sess, events, err := s.orchestrator.OpenSession(r.Context(), connID, id.UserID, id.Roles, id.Scopes, claimsWithToken(id), req.ConversationID, "")
	if err != nil {
		writeError(w, err)
		return
	}

	s.sessions.register(sess.RequestID, func() { s.orchestrator.Cancel(sess) })
	defer s.sessions.unregister(sess.RequestID)
	defer s.orchestrator.CloseSession(sess)

	if err := sess.AwaitPresented(r.Context()); err != nil {
		writeError(w, errkind.Wrap(errkind.Timeout, err, "await pending widget"))
		return
	}
	if err := s.orchestrator.SubmitWidgetResponse(r.Context(), sess, widgetID, req.Value); err != nil {
		writeError(w, err)
		return
	}

	drainSSE(w, r, sess, events)
}

// handleChatCancel implements POST /chat/cancel/{request_id} (§4.1 public
// contract: "cancel(session, request_id)").
func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	if !s.sessions.cancel(requestID) {
		writeError(w, errkind.Newf(errkind.NotFound, "no in-flight request %q", requestID))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
