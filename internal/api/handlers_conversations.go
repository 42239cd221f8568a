package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	dtos, err := s.convReads.ListConversations(r.Context(), id.UserID)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list conversations"))
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	dto, err := s.convReads.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == convstore.ErrNotFound {
			writeError(w, errkind.Newf(errkind.NotFound, "conversation %q not found", chi.URLParam(r, "id")))
			return
		}
		writeError(w, errkind.Wrap(errkind.Internal, err, "get conversation"))
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	if _, _, err := s.conversations.Execute(r.Context(), convID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := c.Delete()
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	convID := chi.URLParam(r, "id")
	if _, _, err := s.conversations.Execute(r.Context(), convID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := c.Rename(req.Name)
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	if _, _, err := s.conversations.Execute(r.Context(), convID, true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := c.Clear()
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
