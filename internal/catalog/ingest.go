package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// Discovered is a tool definition discovered during ingestion, paired with
// the operation id it was normalized from (§4.3 step 2).
type Discovered struct {
	OperationID string
	Definition  ToolDefinition
	Hash        string
}

// IngestOpenAPI normalizes every operation in an OpenAPI document into a
// Discovered tool (§4.3 step 1-2): tool_name prefers operationId, falling
// back to a deterministic hash of method+path; description concatenates
// summary and description; input schema merges path+query+body parameters.
func IngestOpenAPI(_ context.Context, doc *openapi3.T, defaultTimeoutSeconds int, requiredAudience string) ([]Discovered, error) {
	if doc == nil || doc.Paths == nil {
		return nil, errkind.New(errkind.ValidationError, "openapi document has no paths")
	}
	var out []Discovered
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			opID := op.OperationID
			if opID == "" {
				opID = deterministicOperationID(method, path)
			}
			desc := strings.TrimSpace(op.Summary)
			if op.Description != "" {
				if desc != "" {
					desc += " — "
				}
				desc += op.Description
			}
			schema := mergeParameterSchema(op.Parameters, op.RequestBody)
			def := ToolDefinition{
				ToolName:    opID,
				Description: desc,
				InputSchema: schema,
				ExecutionProfile: ExecutionProfile{
					Mode:             ExecutionModeHTTP,
					RequiredAudience: requiredAudience,
					TimeoutSeconds:   defaultTimeoutSeconds,
				},
				SourcePath: strings.ToUpper(method) + " " + path,
			}
			out = append(out, Discovered{OperationID: opID, Definition: def, Hash: hashDefinition(def)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperationID < out[j].OperationID })
	return out, nil
}

// IngestMCP normalizes an MCP server's tools/list response into Discovered
// tools (§4.3 step 1-2, plugin sources).
func IngestMCP(_ context.Context, tools []mcp.Tool, defaultTimeoutSeconds int, requiredAudience string) ([]Discovered, error) {
	out := make([]Discovered, 0, len(tools))
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("catalog: marshal mcp tool schema for %q: %w", t.Name, err)
		}
		def := ToolDefinition{
			ToolName:    t.Name,
			Description: t.Description,
			InputSchema: InputSchema(schemaBytes),
			ExecutionProfile: ExecutionProfile{
				Mode:             ExecutionModePlugin,
				RequiredAudience: requiredAudience,
				TimeoutSeconds:   defaultTimeoutSeconds,
			},
			SourcePath: t.Name,
		}
		out = append(out, Discovered{OperationID: t.Name, Definition: def, Hash: hashDefinition(def)})
	}
	return out, nil
}

func deterministicOperationID(method, path string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + " " + path))
	return "op_" + hex.EncodeToString(sum[:8])
}

// HashDefinition computes the same content hash IngestOpenAPI/IngestMCP use
// internally, so callers comparing a read-model Definition against freshly
// discovered ones (§4.3 step 3) can do so without re-ingesting.
func HashDefinition(def ToolDefinition) string {
	return hashDefinition(def)
}

func hashDefinition(def ToolDefinition) string {
	b, _ := json.Marshal(def)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// mergeParameterSchema builds a JSON-Schema-shaped input schema from
// OpenAPI parameters and request body (§4.3 step 2: "input schema merged
// from parameters (path+query+body) with required reflecting OpenAPI
// required flags").
func mergeParameterSchema(params openapi3.Parameters, body *openapi3.RequestBodyRef) InputSchema {
	properties := map[string]any{}
	var required []string

	for _, p := range params {
		if p.Value == nil {
			continue
		}
		prop := map[string]any{"description": p.Value.Description}
		if p.Value.Schema != nil && p.Value.Schema.Value != nil {
			prop["type"] = p.Value.Schema.Value.Type
		}
		properties[p.Value.Name] = prop
		if p.Value.Required {
			required = append(required, p.Value.Name)
		}
	}

	if body != nil && body.Value != nil {
		for _, media := range body.Value.Content {
			if media.Schema == nil || media.Schema.Value == nil {
				continue
			}
			for name, propRef := range media.Schema.Value.Properties {
				if propRef.Value == nil {
					continue
				}
				properties[name] = map[string]any{
					"type":        propRef.Value.Type,
					"description": propRef.Value.Description,
				}
			}
			required = append(required, media.Schema.Value.Required...)
			break
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = dedupe(required)
	}
	b, _ := json.Marshal(schema)
	return InputSchema(b)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ExistingTool is the subset of Tool state the diff routine needs, decoupled
// from the aggregate type so it can be driven from either live aggregates or
// a read-model projection.
type ExistingTool struct {
	OperationID    string
	DefinitionHash string
	Status         ToolLifecycleStatus
}

// Delta describes the action ingestion must take for one operation id
// (§4.3 step 3, and §8 scenario 6).
type Delta struct {
	OperationID string
	Action      DeltaAction
	Discovered  Discovered
}

// DeltaAction enumerates the ingestion outcomes for one operation id.
type DeltaAction string

const (
	DeltaDiscovered          DeltaAction = "discovered"
	DeltaDefinitionUpdated   DeltaAction = "definition_updated"
	DeltaUnchanged           DeltaAction = "unchanged"
	DeltaDeprecated          DeltaAction = "deprecated"
	DeltaRestored            DeltaAction = "restored"
)

// Diff compares a fresh inventory against existing tool state and classifies
// every operation id (§4.3 step 3, §8 scenario 6: "for a' — definition
// updated; for b — deprecated; for c — no event; for d — discovered").
func Diff(existing []ExistingTool, fresh []Discovered) []Delta {
	existingByOp := make(map[string]ExistingTool, len(existing))
	for _, e := range existing {
		existingByOp[e.OperationID] = e
	}
	freshByOp := make(map[string]Discovered, len(fresh))
	for _, d := range fresh {
		freshByOp[d.OperationID] = d
	}

	var deltas []Delta
	for _, d := range fresh {
		e, ok := existingByOp[d.OperationID]
		switch {
		case !ok:
			deltas = append(deltas, Delta{OperationID: d.OperationID, Action: DeltaDiscovered, Discovered: d})
		case e.Status == ToolStatusDeprecated:
			deltas = append(deltas, Delta{OperationID: d.OperationID, Action: DeltaRestored, Discovered: d})
		case e.DefinitionHash != d.Hash:
			deltas = append(deltas, Delta{OperationID: d.OperationID, Action: DeltaDefinitionUpdated, Discovered: d})
		default:
			deltas = append(deltas, Delta{OperationID: d.OperationID, Action: DeltaUnchanged, Discovered: d})
		}
	}
	for _, e := range existing {
		if _, stillPresent := freshByOp[e.OperationID]; !stillPresent && e.Status != ToolStatusDeprecated {
			deltas = append(deltas, Delta{OperationID: e.OperationID, Action: DeltaDeprecated})
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].OperationID < deltas[j].OperationID })
	return deltas
}

// InventoryHash computes the Source's aggregate inventory hash from the
// sorted set of per-tool hashes (§3: Source "inventory hash").
func InventoryHash(fresh []Discovered) string {
	hashes := make([]string, 0, len(fresh))
	for _, d := range fresh {
		hashes = append(hashes, d.Hash)
	}
	sort.Strings(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, ",")))
	return hex.EncodeToString(sum[:])
}
