// Package catalog implements the Tool Catalog and Access Resolution's
// inventory half (§4.3): Upstream Source and Source Tool aggregates,
// inventory ingestion, and Tool Group membership resolution.
//
// Aggregates follow the same closed-event-variant pattern as
// the aggregates in internal/conversation: a state struct plus a
// switch over event types in ApplyEvent.
package catalog

import "github.com/bvandewe/agent-gateway/internal/catalog/store"

// The vocabulary types below live canonically in internal/catalog/store
// (so that package can be a DTO-only leaf with no dependency on catalog's
// aggregates) and are re-exported here as aliases so aggregate code reads
// the same as before the split.

type (
	SourceKind          = store.SourceKind
	AuthMode            = store.AuthMode
	HealthStatus        = store.HealthStatus
	ToolLifecycleStatus = store.ToolLifecycleStatus
	ExecutionMode       = store.ExecutionMode
	ExecutionProfile    = store.ExecutionProfile
	InputSchema         = store.InputSchema
	ToolDefinition      = store.ToolDefinition
)

const (
	SourceKindOpenAPI   = store.SourceKindOpenAPI
	SourceKindWorkflow  = store.SourceKindWorkflow
	SourceKindMCPPlugin = store.SourceKindMCPPlugin
	SourceKindMCPRemote = store.SourceKindMCPRemote

	AuthModeNone          = store.AuthModeNone
	AuthModeTokenExchange = store.AuthModeTokenExchange
	AuthModeStaticAPIKey  = store.AuthModeStaticAPIKey

	HealthUnknown   = store.HealthUnknown
	HealthHealthy   = store.HealthHealthy
	HealthDegraded  = store.HealthDegraded
	HealthUnhealthy = store.HealthUnhealthy

	ToolStatusActive     = store.ToolStatusActive
	ToolStatusDeprecated = store.ToolStatusDeprecated
	ToolStatusDeleted    = store.ToolStatusDeleted

	ExecutionModeHTTP         = store.ExecutionModeHTTP
	ExecutionModePlugin       = store.ExecutionModePlugin
	ExecutionModeClientAction = store.ExecutionModeClientAction
)
