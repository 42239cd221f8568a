package store

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SourceKind enumerates the kinds of upstream systems a Source can be (§3).
//
// Defined here rather than in the parent catalog package so that both
// catalog (aggregates) and store (read-model DTOs) can depend on one
// canonical definition without an import cycle between them; catalog
// re-exports these as aliases.
type SourceKind string

const (
	SourceKindOpenAPI   SourceKind = "openapi"
	SourceKindWorkflow  SourceKind = "workflow"
	SourceKindMCPPlugin SourceKind = "mcp_plugin"
	SourceKindMCPRemote SourceKind = "mcp_remote"
)

// AuthMode enumerates how the pipeline authenticates to a source.
type AuthMode string

const (
	AuthModeNone          AuthMode = "none"
	AuthModeTokenExchange AuthMode = "token_exchange"
	AuthModeStaticAPIKey  AuthMode = "static_api_key"
)

// HealthStatus enumerates a Source's last-observed reachability.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ToolLifecycleStatus enumerates a Source Tool's lifecycle (§3).
type ToolLifecycleStatus string

const (
	ToolStatusActive     ToolLifecycleStatus = "active"
	ToolStatusDeprecated ToolLifecycleStatus = "deprecated"
	ToolStatusDeleted    ToolLifecycleStatus = "deleted"
)

// ExecutionMode enumerates how a tool is dispatched.
type ExecutionMode string

const (
	ExecutionModeHTTP         ExecutionMode = "http"
	ExecutionModePlugin       ExecutionMode = "plugin"
	ExecutionModeClientAction ExecutionMode = "client_action"
)

// ExecutionProfile carries dispatch configuration for a tool (§3, §4.2).
type ExecutionProfile struct {
	Mode             ExecutionMode `json:"mode"`
	RequiredAudience string        `json:"required_audience,omitempty"`
	TimeoutSeconds   int           `json:"timeout_seconds,omitempty"`
}

// InputSchema is the JSON-Schema-shaped input descriptor carried by a tool
// (§3: "type, properties, required"). It is kept as raw JSON so the schema
// validator (santhosh-tekuri/jsonschema) compiles it directly without a
// lossy intermediate Go representation.
type InputSchema json.RawMessage

// MarshalJSON passes the raw schema through unchanged.
func (s InputSchema) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// UnmarshalJSON stores the raw schema bytes unchanged.
func (s *InputSchema) UnmarshalJSON(data []byte) error {
	*s = append((*s)[0:0], data...)
	return nil
}

// ToolDefinition is the executable spec extracted from a source during
// ingestion (§3 value type "Tool Definition").
type ToolDefinition struct {
	ToolName         string           `json:"tool_name"`
	Description      string           `json:"description"`
	InputSchema      InputSchema      `json:"input_schema"`
	ExecutionProfile ExecutionProfile `json:"execution_profile"`
	// SourcePath is the method+URL template for HTTP tools, or the
	// plugin-local tool name for plugin tools.
	SourcePath string   `json:"source_path"`
	Tags       []string `json:"tags,omitempty"`
}

// PluginConfig carries the launch configuration for mcp_plugin/mcp_remote
// sources (§3: "optional plugin configuration for mcp_* kinds").
type PluginConfig struct {
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	RemoteURL string   `json:"remote_url,omitempty"`
}

// SelectorKind distinguishes wildcard from regex selectors (§4.3 step 4).
type SelectorKind string

const (
	SelectorWildcard SelectorKind = "wildcard"
	SelectorRegex    SelectorKind = "regex"
)

// SelectorField names the tool field a Selector matches against.
type SelectorField string

const (
	SelectorFieldName     SelectorField = "name"
	SelectorFieldTags     SelectorField = "tags"
	SelectorFieldSourceID SelectorField = "source_id"
)

// Selector matches tool descriptors by wildcard or regex on name/tags/source
// (§3 Tool Group, §4.3 step 4).
type Selector struct {
	Kind    SelectorKind  `json:"kind"`
	Field   SelectorField `json:"field"`
	Pattern string        `json:"pattern"`
}

// Matches reports whether the selector matches the given tool facts.
func (s Selector) Matches(name string, tags []string, sourceID string) bool {
	var candidates []string
	switch s.Field {
	case SelectorFieldName:
		candidates = []string{name}
	case SelectorFieldTags:
		candidates = tags
	case SelectorFieldSourceID:
		candidates = []string{sourceID}
	default:
		return false
	}
	if s.Kind == SelectorRegex {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return false
		}
		for _, c := range candidates {
			if re.MatchString(c) {
				return true
			}
		}
		return false
	}
	for _, c := range candidates {
		if wildcardMatch(s.Pattern, c) {
			return true
		}
	}
	return false
}

// wildcardMatch implements a minimal glob: '*' matches any run of characters,
// no other metacharacters are special.
func wildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == value
	}
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}
