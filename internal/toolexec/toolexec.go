// Package toolexec implements the Tool Execution Pipeline (§4.2): the only
// code in the gateway that holds and delegates the caller's identity.
// Execute runs the five ordered phases — lookup, schema validation,
// delegated identity exchange, transport dispatch, result shaping —
// producing a Result suitable for feeding back into the Conversation
// Orchestrator's reason/act loop.
package toolexec

import (
	"context"
	"time"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/telemetry"
)

// Status enumerates the outcome of a tool execution (§4.2 step 5).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the unified outcome of executing a tool, independent of which
// transport handled it (§4.2: "Unified result object").
type Result struct {
	ToolID          string         `json:"tool_id"`
	Status          Status         `json:"status"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	UpstreamStatus  int            `json:"upstream_status,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	// Warnings carries non-fatal observations about the execution, such as
	// a token exchange that returned a narrower scope than the tool's
	// source requires (§4.2 phase 3 supplemented behavior). A warning never
	// changes Status.
	Warnings []string `json:"warnings,omitempty"`
}

// Options tunes a single Execute call.
type Options struct {
	// SkipValidation disables schema validation (§4.2 step 2: "unless
	// explicitly disabled by options").
	SkipValidation bool
}

// Transport dispatches a validated call to a concrete tool and returns its
// raw (unshaped) outcome. HTTPDispatcher and PluginTransport implement this.
type Transport interface {
	Dispatch(ctx context.Context, tool *store.ToolDTO, source *store.SourceDTO, arguments map[string]any, bearer string) (Result, error)
}

// Pipeline wires together the phases of §4.2 against the catalog read model.
type Pipeline struct {
	catalog   store.Store
	validator *SchemaValidator
	exchanger *Exchanger
	http      Transport
	plugin    Transport
	logger    telemetry.Logger
}

// New constructs a Pipeline. http and plugin are the two transports (§4.2
// step 4); exchanger may be nil if no source in the catalog uses
// token_exchange auth.
func New(catalogStore store.Store, exchanger *Exchanger, http, plugin Transport, logger telemetry.Logger) *Pipeline {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Pipeline{
		catalog:   catalogStore,
		validator: NewSchemaValidator(),
		exchanger: exchanger,
		http:      http,
		plugin:    plugin,
		logger:    logger,
	}
}

// Execute runs the full pipeline for toolID against arguments, delegating
// callerToken as the caller's identity (§4.2 "Operation").
func (p *Pipeline) Execute(ctx context.Context, toolID string, arguments map[string]any, callerToken string, opts Options) (Result, error) {
	start := time.Now()

	// Phase 1: lookup.
	tool, err := p.catalog.GetTool(ctx, toolID)
	if err != nil {
		if err == store.ErrNotFound {
			return Result{}, errkind.Newf(errkind.NotFound, "tool %q not found", toolID)
		}
		return Result{}, errkind.Wrap(errkind.Internal, err, "load tool")
	}
	if !tool.IsEnabled || tool.Status != catalog.ToolStatusActive {
		return Result{}, errkind.Newf(errkind.InvalidState, "tool %q is disabled", toolID)
	}
	source, err := p.catalog.GetSource(ctx, tool.SourceID)
	if err != nil {
		if err == store.ErrNotFound {
			return Result{}, errkind.Newf(errkind.NotFound, "source %q not found", tool.SourceID)
		}
		return Result{}, errkind.Wrap(errkind.Internal, err, "load source")
	}

	// Phase 2: schema validation.
	if !opts.SkipValidation {
		if err := p.validator.Validate(tool.ID, tool.Definition.InputSchema, arguments); err != nil {
			return Result{}, err
		}
	}

	// Phase 3: delegated identity.
	bearer := callerToken
	var warnings []string
	profile := tool.Definition.ExecutionProfile
	if profile.RequiredAudience != "" && source.AuthMode == catalog.AuthModeTokenExchange {
		if p.exchanger == nil {
			return Result{}, errkind.New(errkind.TokenExchangeFailed, "no token exchanger configured")
		}
		exchanged, exchangeWarnings, err := p.exchanger.Exchange(ctx, callerToken, profile.RequiredAudience, source.RequiredScopes)
		if err != nil {
			return Result{}, err
		}
		bearer = exchanged.AccessToken
		warnings = exchangeWarnings
		for _, w := range warnings {
			p.logger.Warn(ctx, "token exchange warning", "tool_id", toolID, "warning", w)
		}
	}

	// Phase 4: dispatch.
	var result Result
	switch profile.Mode {
	case catalog.ExecutionModeHTTP:
		result, err = p.http.Dispatch(ctx, tool, source, arguments, bearer)
	case catalog.ExecutionModePlugin:
		result, err = p.plugin.Dispatch(ctx, tool, source, arguments, bearer)
	default:
		return Result{}, errkind.Newf(errkind.Internal, "tool %q has unknown execution mode %q", toolID, profile.Mode)
	}
	if err != nil {
		return Result{}, err
	}

	// Phase 5: result shaping.
	result.ToolID = toolID
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.Warnings = append(warnings, result.Warnings...)
	p.logger.Info(ctx, "tool executed", "tool_id", toolID, "status", string(result.Status))
	return result, nil
}
