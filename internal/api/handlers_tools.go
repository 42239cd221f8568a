package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	dtos, err := s.catalogReads.ListTools(r.Context(), r.URL.Query().Get("source_id"))
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list tools"))
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	dtos, err := s.catalogReads.SearchTools(r.Context(), q, tags)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "search tools"))
		return
	}
	if sourceID := r.URL.Query().Get("source_id"); sourceID != "" {
		filtered := dtos[:0]
		for _, d := range dtos {
			if d.SourceID == sourceID {
				filtered = append(filtered, d)
			}
		}
		dtos = filtered
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	dto, err := s.catalogReads.GetTool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == catalogstore.ErrNotFound {
			writeError(w, errkind.Newf(errkind.NotFound, "tool %q not found", chi.URLParam(r, "id")))
			return
		}
		writeError(w, errkind.Wrap(errkind.Internal, err, "get tool"))
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "id")
	if _, _, err := s.tools.Execute(r.Context(), toolID, true, func(t *catalog.Tool) ([]eventstore.NewEvent, error) {
		evt, err := t.Deprecate()
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

func (s *Server) handleEnableTool(w http.ResponseWriter, r *http.Request) {
	s.setToolEnabled(w, r, true)
}

func (s *Server) handleDisableTool(w http.ResponseWriter, r *http.Request) {
	s.setToolEnabled(w, r, false)
}

func (s *Server) setToolEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	toolID := chi.URLParam(r, "id")
	if _, _, err := s.tools.Execute(r.Context(), toolID, true, func(t *catalog.Tool) ([]eventstore.NewEvent, error) {
		evt, err := t.SetEnabled(enabled)
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	// Enablement changes group membership for any selector matching this
	// tool; the affected groups are unknown, so every manifest is dropped
	// (§4.3 "Caching").
	if err := s.access.InvalidateAllManifests(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "manifest invalidation failed", "tool_id", toolID, "error", err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
}
