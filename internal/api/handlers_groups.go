package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

type createGroupRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Selectors   []catalog.Selector `json:"selectors,omitempty"`
	Includes    []string           `json:"includes,omitempty"`
	Excludes    []string           `json:"excludes,omitempty"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, errkind.New(errkind.ValidationError, "name is required").WithPath("/name"))
		return
	}

	groupID := uuid.NewString()
	if _, _, err := s.groups.Execute(r.Context(), groupID, false, func(g *catalog.Group) ([]eventstore.NewEvent, error) {
		events := make([]eventstore.NewEvent, 0, 4)
		created, err := catalog.CreateGroup(req.Name, req.Description)
		if err != nil {
			return nil, err
		}
		events = append(events, created)
		if len(req.Selectors) > 0 {
			evt, err := g.SetSelectors(req.Selectors)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if len(req.Includes) > 0 {
			evt, err := g.SetIncludes(req.Includes)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if len(req.Excludes) > 0 {
			evt, err := g.SetExcludes(req.Excludes)
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

	writeJSON(w, http.StatusCreated, map[string]string{"id": groupID})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	dtos, err := s.catalogReads.ListGroups(r.Context())
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list groups"))
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	dto, err := s.catalogReads.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == catalogstore.ErrNotFound {
			writeError(w, errkind.Newf(errkind.NotFound, "group %q not found", chi.URLParam(r, "id")))
			return
		}
		writeError(w, errkind.Wrap(errkind.Internal, err, "get group"))
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type updateGroupRequest struct {
	Selectors []catalog.Selector `json:"selectors,omitempty"`
	Includes  []string           `json:"includes,omitempty"`
	Excludes  []string           `json:"excludes,omitempty"`
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	groupID := chi.URLParam(r, "id")
	if _, _, err := s.groups.Execute(r.Context(), groupID, true, func(g *catalog.Group) ([]eventstore.NewEvent, error) {
		var events []eventstore.NewEvent
		if req.Selectors != nil {
			evt, err := g.SetSelectors(req.Selectors)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if req.Includes != nil {
			evt, err := g.SetIncludes(req.Includes)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if req.Excludes != nil {
			evt, err := g.SetExcludes(req.Excludes)
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
	s.invalidateGroupManifest(r, groupID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	if _, _, err := s.groups.Execute(r.Context(), groupID, true, func(g *catalog.Group) ([]eventstore.NewEvent, error) {
		evt, err := g.Delete()
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateGroupManifest(r, groupID)
	w.WriteHeader(http.StatusNoContent)
}

// invalidateGroupManifest drops the group's cached manifest after a write
// (§4.3 "Consistency"). Failures are logged, never surfaced: the cache is
// advisory and readers recompute on expiry.
func (s *Server) invalidateGroupManifest(r *http.Request, groupID string) {
	if err := s.access.InvalidateGroup(r.Context(), groupID); err != nil {
		s.logger.Warn(r.Context(), "group manifest invalidation failed", "group_id", groupID, "error", err.Error())
	}
}
