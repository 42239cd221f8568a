package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// createSourceRequest is the wire shape of POST /sources (§4.3 "Source
// registration and discovery"). SpecURL is fetched and parsed as OpenAPI
// when Kind is openapi or workflow; mcp_plugin/mcp_remote sources carry
// Plugin instead.
type createSourceRequest struct {
	Name                  string                `json:"name"`
	Kind                  catalog.SourceKind    `json:"kind"`
	BaseURL               string                `json:"base_url"`
	SpecURL               string                `json:"spec_url,omitempty"`
	AuthMode              catalog.AuthMode      `json:"auth_mode"`
	DefaultAudience       string                `json:"default_audience,omitempty"`
	RequiredScopes        []string              `json:"required_scopes,omitempty"`
	Plugin                *catalog.PluginConfig `json:"plugin,omitempty"`
	DefaultTimeoutSeconds int                   `json:"default_timeout_seconds,omitempty"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.ValidationError, err, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, errkind.New(errkind.ValidationError, "name is required").WithPath("/name"))
		return
	}

	sourceID := uuid.NewString()
	if _, _, err := s.sources.Execute(r.Context(), sourceID, false, func(src *catalog.Source) ([]eventstore.NewEvent, error) {
		evt, err := catalog.RegisterSource(sourceID, req.Name, req.Kind, req.BaseURL, req.SpecURL, req.AuthMode, req.DefaultAudience, req.RequiredScopes, req.Plugin)
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}

	switch {
	case (req.Kind == catalog.SourceKindOpenAPI || req.Kind == catalog.SourceKindWorkflow) && req.SpecURL != "":
		if err := s.discoverOpenAPI(r.Context(), sourceID, req.Name, req.SpecURL, req.DefaultTimeoutSeconds, req.DefaultAudience); err != nil {
			writeError(w, err)
			return
		}
	case req.Kind == catalog.SourceKindMCPPlugin || req.Kind == catalog.SourceKindMCPRemote:
		dto, err := s.catalogReads.GetSource(r.Context(), sourceID)
		if err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err, "load registered source"))
			return
		}
		if err := s.discoverMCP(r.Context(), dto, req.DefaultTimeoutSeconds); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": sourceID})
}

// discoverOpenAPI fetches and ingests an OpenAPI document, diffing the
// freshly discovered tools against the existing catalog (§4.3 step 2-3:
// "Discovery... Diff").
func (s *Server) discoverOpenAPI(ctx context.Context, sourceID, sourceName, specURL string, defaultTimeoutSeconds int, requiredAudience string) error {
	specURI, err := url.Parse(specURL)
	if err != nil {
		return errkind.Wrap(errkind.ValidationError, err, "invalid spec_url")
	}
	doc, err := openapi3.NewLoader().LoadFromURI(specURI)
	if err != nil {
		return errkind.Wrap(errkind.UpstreamError, err, "fetch openapi spec")
	}
	discovered, err := catalog.IngestOpenAPI(ctx, doc, defaultTimeoutSeconds, requiredAudience)
	if err != nil {
		return errkind.Wrap(errkind.ValidationError, err, "parse openapi spec")
	}
	return s.syncInventory(ctx, sourceID, sourceName, discovered)
}

// discoverMCP lists an mcp_plugin/mcp_remote source's tools over its plugin
// transport and ingests them the same way discoverOpenAPI ingests an OpenAPI
// document (§4.3 step 1: "plugin tools/list").
func (s *Server) discoverMCP(ctx context.Context, dto *catalogstore.SourceDTO, defaultTimeoutSeconds int) error {
	if s.mcp == nil {
		return errkind.New(errkind.InvalidState, "no mcp transport configured")
	}
	tools, err := s.mcp.ListSourceTools(ctx, dto)
	if err != nil {
		return err
	}
	discovered, err := catalog.IngestMCP(ctx, tools, defaultTimeoutSeconds, dto.DefaultAudience)
	if err != nil {
		return errkind.Wrap(errkind.ValidationError, err, "ingest mcp tools")
	}
	return s.syncInventory(ctx, dto.ID, dto.Name, discovered)
}

// syncInventory diffs a freshly discovered inventory against the existing
// tool read model, applies one event per delta, and records the refresh on
// the source (§4.3 steps 3-4, §8 scenario 6).
func (s *Server) syncInventory(ctx context.Context, sourceID, sourceName string, discovered []catalog.Discovered) error {
	existingDTOs, err := s.catalogReads.ListTools(ctx, sourceID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "list existing tools")
	}
	existing := make([]catalog.ExistingTool, 0, len(existingDTOs))
	for _, dto := range existingDTOs {
		existing = append(existing, catalog.ExistingTool{
			OperationID:    dto.Definition.ToolName,
			DefinitionHash: catalog.HashDefinition(dto.Definition),
			Status:         dto.Status,
		})
	}
	deltas := catalog.Diff(existing, discovered)

	for _, d := range deltas {
		toolID := catalog.ToolID(sourceID, d.OperationID)
		if err := s.applyToolDelta(ctx, sourceID, sourceName, toolID, d); err != nil {
			return errkind.Wrap(errkind.Internal, err, "apply tool delta")
		}
	}

	inventoryHash := catalog.InventoryHash(discovered)
	if _, _, err = s.sources.Execute(ctx, sourceID, true, func(src *catalog.Source) ([]eventstore.NewEvent, error) {
		evt, err := src.Refresh(inventoryHash, len(discovered))
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		return err
	}

	// Inventory changes invalidate every group manifest (§4.3 "Caching":
	// "invalidated... on a source's tool inventory").
	if err := s.access.InvalidateAllManifests(ctx); err != nil {
		s.logger.Warn(ctx, "manifest invalidation failed", "source_id", sourceID, "error", err.Error())
	}
	return nil
}

func (s *Server) applyToolDelta(ctx context.Context, sourceID, sourceName, toolID string, d catalog.Delta) error {
	mustExist := d.Action != catalog.DeltaDiscovered
	_, _, err := s.tools.Execute(ctx, toolID, mustExist, func(t *catalog.Tool) ([]eventstore.NewEvent, error) {
		switch d.Action {
		case catalog.DeltaDiscovered:
			evt, err := catalog.Discover(sourceID, sourceName, d.OperationID, d.Discovered.Definition, d.Discovered.Hash)
			if err != nil {
				return nil, err
			}
			return []eventstore.NewEvent{evt}, nil
		case catalog.DeltaDefinitionUpdated:
			evt, err := t.UpdateDefinition(d.Discovered.Definition, d.Discovered.Hash)
			if err != nil {
				return nil, err
			}
			return []eventstore.NewEvent{evt}, nil
		case catalog.DeltaRestored:
			evt, err := t.Restore()
			if err != nil {
				return nil, err
			}
			return []eventstore.NewEvent{evt}, nil
		case catalog.DeltaDeprecated:
			evt, err := t.Deprecate()
			if err != nil {
				return nil, err
			}
			return []eventstore.NewEvent{evt}, nil
		default:
			// DeltaUnchanged: no event.
			return nil, nil
		}
	})
	return err
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	dtos, err := s.catalogReads.ListSources(r.Context())
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list sources"))
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	dto, err := s.catalogReads.GetSource(r.Context(), sourceID)
	if err != nil {
		if err == catalogstore.ErrNotFound {
			writeError(w, errkind.Newf(errkind.NotFound, "source %q not found", sourceID))
			return
		}
		writeError(w, errkind.Wrap(errkind.Internal, err, "get source"))
		return
	}
	switch dto.Kind {
	case catalog.SourceKindOpenAPI, catalog.SourceKindWorkflow:
		if dto.SpecURL == "" {
			writeError(w, errkind.New(errkind.ValidationError, "source has no spec_url to refresh from"))
			return
		}
		if err := s.discoverOpenAPI(r.Context(), sourceID, dto.Name, dto.SpecURL, 0, dto.DefaultAudience); err != nil {
			writeError(w, err)
			return
		}
	case catalog.SourceKindMCPPlugin, catalog.SourceKindMCPRemote:
		if err := s.discoverMCP(r.Context(), dto, 0); err != nil {
			writeError(w, err)
			return
		}
	default:
		writeError(w, errkind.Newf(errkind.ValidationError, "source kind %q does not support refresh", dto.Kind))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	if _, _, err := s.sources.Execute(r.Context(), sourceID, true, func(src *catalog.Source) ([]eventstore.NewEvent, error) {
		evt, err := src.Delete()
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	}); err != nil {
		writeError(w, err)
		return
	}

	// Deleting a Source deprecates its tools (§3 ownership rules).
	tools, err := s.catalogReads.ListTools(r.Context(), sourceID)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err, "list source tools"))
		return
	}
	for _, dto := range tools {
		if dto.Status != catalog.ToolStatusActive {
			continue
		}
		if _, _, err := s.tools.Execute(r.Context(), dto.ID, true, func(t *catalog.Tool) ([]eventstore.NewEvent, error) {
			evt, err := t.Deprecate()
			if err != nil {
				return nil, err
			}
			return []eventstore.NewEvent{evt}, nil
		}); err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err, "deprecate source tool"))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
