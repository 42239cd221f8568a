package toolexec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	catmemory "github.com/bvandewe/agent-gateway/internal/catalog/store/memory"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

type fakeTransport struct {
	result toolexec.Result
	err    error
	calls  int
}

func (f *fakeTransport) Dispatch(ctx context.Context, tool *store.ToolDTO, source *store.SourceDTO, arguments map[string]any, bearer string) (toolexec.Result, error) {
	f.calls++
	return f.result, f.err
}

func seedTool(t *testing.T, s *catmemory.Store, mode store.ExecutionMode, audience string, authMode store.AuthMode) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveSource(ctx, &store.SourceDTO{
		ID: "src1", Kind: store.SourceKindOpenAPI, AuthMode: authMode, Enabled: true,
	}))
	require.NoError(t, s.SaveTool(ctx, &store.ToolDTO{
		ID: "src1:get_weather", SourceID: "src1", ToolName: "get_weather",
		Definition: store.ToolDefinition{
			ToolName:    "get_weather",
			InputSchema: store.InputSchema(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
			ExecutionProfile: store.ExecutionProfile{
				Mode:             mode,
				RequiredAudience: audience,
			},
		},
		IsEnabled: true,
		Status:    "active",
	}))
}

func TestExecuteHappyPathHTTP(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	seedTool(t, cs, store.ExecutionModeHTTP, "", store.AuthModeNone)

	http := &fakeTransport{result: toolexec.Result{Status: toolexec.StatusCompleted, Result: map[string]any{"temperature": 15.0}}}
	plugin := &fakeTransport{}
	p := toolexec.New(cs, nil, http, plugin, nil)

	res, err := p.Execute(ctx, "src1:get_weather", map[string]any{"city": "Paris"}, "caller-token", toolexec.Options{})
	require.NoError(t, err)
	require.Equal(t, toolexec.StatusCompleted, res.Status)
	require.Equal(t, "src1:get_weather", res.ToolID)
	require.Equal(t, 1, http.calls)
	require.Equal(t, 0, plugin.calls)
}

func TestExecuteValidationError(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	seedTool(t, cs, store.ExecutionModeHTTP, "", store.AuthModeNone)

	http := &fakeTransport{result: toolexec.Result{Status: toolexec.StatusCompleted}}
	p := toolexec.New(cs, nil, http, &fakeTransport{}, nil)

	_, err := p.Execute(ctx, "src1:get_weather", map[string]any{}, "caller-token", toolexec.Options{})
	require.Error(t, err)
	require.Equal(t, errkind.ValidationError, errkind.KindOf(err))
	require.Equal(t, 0, http.calls)
}

func TestExecuteUnknownToolNotFound(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	p := toolexec.New(cs, nil, &fakeTransport{}, &fakeTransport{}, nil)

	_, err := p.Execute(ctx, "missing:tool", map[string]any{}, "tok", toolexec.Options{})
	require.Error(t, err)
	require.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestExecuteSkipsTokenExchangeWhenNoAudience(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	seedTool(t, cs, store.ExecutionModeHTTP, "", store.AuthModeNone)

	http := &fakeTransport{result: toolexec.Result{Status: toolexec.StatusCompleted}}
	// No exchanger configured at all; a tool without a required audience must
	// never need one (§8 "Boundary behaviors": "Tool with no required
	// audience: pipeline skips token exchange and uses the caller's raw
	// token.").
	p := toolexec.New(cs, nil, http, &fakeTransport{}, nil)

	_, err := p.Execute(ctx, "src1:get_weather", map[string]any{"city": "Paris"}, "caller-token", toolexec.Options{})
	require.NoError(t, err)
}

func TestExecuteRequiresExchangerWhenAudienceDeclared(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	seedTool(t, cs, store.ExecutionModeHTTP, "weather-api", store.AuthModeTokenExchange)

	p := toolexec.New(cs, nil, &fakeTransport{}, &fakeTransport{}, nil)

	_, err := p.Execute(ctx, "src1:get_weather", map[string]any{"city": "Paris"}, "caller-token", toolexec.Options{})
	require.Error(t, err)
	require.Equal(t, errkind.TokenExchangeFailed, errkind.KindOf(err))
}

func TestExecuteDisabledToolRejected(t *testing.T) {
	ctx := context.Background()
	cs := catmemory.New()
	seedTool(t, cs, store.ExecutionModeHTTP, "", store.AuthModeNone)
	tool, err := cs.GetTool(ctx, "src1:get_weather")
	require.NoError(t, err)
	tool.IsEnabled = false
	require.NoError(t, cs.SaveTool(ctx, tool))

	p := toolexec.New(cs, nil, &fakeTransport{}, &fakeTransport{}, nil)
	_, err = p.Execute(ctx, "src1:get_weather", map[string]any{"city": "Paris"}, "tok", toolexec.Options{})
	require.Error(t, err)
	require.Equal(t, errkind.InvalidState, errkind.KindOf(err))
}
