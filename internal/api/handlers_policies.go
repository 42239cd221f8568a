package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/access"
	accessstore "github.com/bvandewe/agent-gateway/internal/access/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

type createPolicyRequest struct {
	Name            string                `json:"name"`
	Matchers        []access.ClaimMatcher `json:"matchers"`
	AllowedGroupIDs []string              `json:"allowed_group_ids"`
	Priority        int                   `json:"priority"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, errkind.New(errkind.ValidationError, "name is required").WithPath("/name"))
		return
	}

	policyID := uuid.NewString()
	if _, _, err := s.policies.Execute(r.Context(), policyID, false, func(p *access.Policy) ([]eventstore.NewEvent, error) {
		evt, err := access.CreatePolicy(req.Name, req.Matchers, req.AllowedGroupIDs, req.Priority)
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateAccessCache(r)
	writeJSON(w, http.StatusCreated, map[string]string{"id": policyID})
}

// invalidateAccessCache globally drops cached agent-access entries after a
// policy write (§4.3 "Caching": "invalidated globally on policy change").
// Failures are logged, never surfaced: the cache is advisory.
func (s *Server) invalidateAccessCache(r *http.Request) {
	if err := s.access.InvalidateAccess(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "access cache invalidation failed", "error", err.Error())
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	dtos, err := s.policyReads.ListPolicies(r.Context())
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list policies"))
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	dto, err := s.policyReads.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == accessstore.ErrNotFound {
			writeError(w, errkind.Newf(errkind.NotFound, "policy %q not found", chi.URLParam(r, "id")))
			return
		}
		writeError(w, errkind.Wrap(errkind.Internal, err, "get policy"))
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type updatePolicyRequest struct {
	Matchers        []access.ClaimMatcher `json:"matchers"`
	AllowedGroupIDs []string              `json:"allowed_group_ids"`
	Priority        int                   `json:"priority"`
	Active          *bool                 `json:"active,omitempty"`
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	policyID := chi.URLParam(r, "id")
	if _, _, err := s.policies.Execute(r.Context(), policyID, true, func(p *access.Policy) ([]eventstore.NewEvent, error) {
		var events []eventstore.NewEvent
		evt, err := p.Update(req.Matchers, req.AllowedGroupIDs, req.Priority)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
		if req.Active != nil {
			evt, err := p.SetActive(*req.Active)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		return events, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateAccessCache(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")
	if _, _, err := s.policies.Execute(r.Context(), policyID, true, func(p *access.Policy) ([]eventstore.NewEvent, error) {
		evt, err := p.Delete()
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateAccessCache(r)
	w.WriteHeader(http.StatusNoContent)
}
