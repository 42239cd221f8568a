package catalog_test

import (
	"context"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/catalog"
)

const weatherSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Weather", "version": "1.0.0"},
  "paths": {
    "/weather/{city}": {
      "get": {
        "operationId": "get_weather",
        "summary": "Current weather",
        "description": "Returns current conditions for a city.",
        "parameters": [
          {"name": "city", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "units", "in": "query", "required": false, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/ping": {
      "get": {
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(weatherSpec))
	require.NoError(t, err)
	return doc
}

func TestIngestOpenAPINormalizesOperations(t *testing.T) {
	ctx := context.Background()
	discovered, err := catalog.IngestOpenAPI(ctx, loadSpec(t), 30, "weather-api")
	require.NoError(t, err)
	require.Len(t, discovered, 2)

	byName := make(map[string]catalog.Discovered, len(discovered))
	for _, d := range discovered {
		byName[d.OperationID] = d
	}

	weather, ok := byName["get_weather"]
	require.True(t, ok)
	require.Equal(t, "get_weather", weather.Definition.ToolName)
	require.Contains(t, weather.Definition.Description, "Current weather")
	require.Equal(t, "GET /weather/{city}", weather.Definition.SourcePath)
	require.Equal(t, catalog.ExecutionModeHTTP, weather.Definition.ExecutionProfile.Mode)
	require.Equal(t, "weather-api", weather.Definition.ExecutionProfile.RequiredAudience)
	require.Equal(t, 30, weather.Definition.ExecutionProfile.TimeoutSeconds)
	require.NotEmpty(t, weather.Hash)

	schema := string(weather.Definition.InputSchema)
	require.Contains(t, schema, `"city"`)
	require.Contains(t, schema, `"units"`)
	require.Contains(t, schema, `"required":["city"]`)

	// An operation without an operationId gets a deterministic fallback name.
	var fallback catalog.Discovered
	for op, d := range byName {
		if op != "get_weather" {
			fallback = d
		}
	}
	require.True(t, strings.HasPrefix(fallback.OperationID, "op_"))

	again, err := catalog.IngestOpenAPI(ctx, loadSpec(t), 30, "weather-api")
	require.NoError(t, err)
	require.Equal(t, discovered, again, "ingestion must be deterministic across refreshes")
}

func TestDiffClassifiesRefreshDelta(t *testing.T) {
	existing := []catalog.ExistingTool{
		{OperationID: "a", DefinitionHash: "h_a", Status: catalog.ToolStatusActive},
		{OperationID: "b", DefinitionHash: "h_b", Status: catalog.ToolStatusActive},
		{OperationID: "c", DefinitionHash: "h_c", Status: catalog.ToolStatusActive},
	}
	fresh := []catalog.Discovered{
		{OperationID: "a", Hash: "h_a2"},
		{OperationID: "c", Hash: "h_c"},
		{OperationID: "d", Hash: "h_d"},
	}

	deltas := catalog.Diff(existing, fresh)
	actions := make(map[string]catalog.DeltaAction, len(deltas))
	for _, d := range deltas {
		actions[d.OperationID] = d.Action
	}
	require.Equal(t, catalog.DeltaDefinitionUpdated, actions["a"])
	require.Equal(t, catalog.DeltaDeprecated, actions["b"])
	require.Equal(t, catalog.DeltaUnchanged, actions["c"])
	require.Equal(t, catalog.DeltaDiscovered, actions["d"])
}

func TestDiffRestoresDeprecatedTool(t *testing.T) {
	existing := []catalog.ExistingTool{
		{OperationID: "a", DefinitionHash: "h_a", Status: catalog.ToolStatusDeprecated},
	}
	fresh := []catalog.Discovered{{OperationID: "a", Hash: "h_a"}}

	deltas := catalog.Diff(existing, fresh)
	require.Len(t, deltas, 1)
	require.Equal(t, catalog.DeltaRestored, deltas[0].Action)
}

func TestDiffAlreadyDeprecatedToolStaysSilent(t *testing.T) {
	existing := []catalog.ExistingTool{
		{OperationID: "gone", DefinitionHash: "h", Status: catalog.ToolStatusDeprecated},
	}
	deltas := catalog.Diff(existing, nil)
	require.Empty(t, deltas)
}

func TestInventoryHashIsOrderIndependent(t *testing.T) {
	a := []catalog.Discovered{{OperationID: "x", Hash: "1"}, {OperationID: "y", Hash: "2"}}
	b := []catalog.Discovered{{OperationID: "y", Hash: "2"}, {OperationID: "x", Hash: "1"}}
	require.Equal(t, catalog.InventoryHash(a), catalog.InventoryHash(b))
	require.NotEqual(t, catalog.InventoryHash(a), catalog.InventoryHash(a[:1]))
}
