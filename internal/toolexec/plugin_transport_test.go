package toolexec

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	"github.com/bvandewe/agent-gateway/internal/catalog/store"
)

// fakeMCPClient is a test double for mcpClient; this file lives in package
// toolexec (not toolexec_test) specifically to reach that unexported seam.
type fakeMCPClient struct {
	callOnErr error // error to return on the first CallTool, nil afterward
	callErr   error
	isError   bool // marks successful CallTool results as MCP tool errors
	calls     int
	closed    bool
}

func (f *fakeMCPClient) Start(ctx context.Context) error { return nil }
func (f *fakeMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}
func (f *fakeMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{}, nil
}
func (f *fakeMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls++
	if f.calls == 1 && f.callOnErr != nil {
		return nil, f.callOnErr
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{IsError: f.isError, Content: []mcp.Content{mcp.TextContent{Text: "ok"}}}, nil
}
func (f *fakeMCPClient) Close() error { f.closed = true; return nil }

func newTestTool(sourceID string) (*store.ToolDTO, *store.SourceDTO) {
	tool := &store.ToolDTO{
		ID:       "tool-1",
		SourceID: sourceID,
		Definition: catalog.ToolDefinition{
			SourcePath: "remote-tool-name",
			ExecutionProfile: catalog.ExecutionProfile{
				Mode: catalog.ExecutionModePlugin,
			},
		},
	}
	source := &store.SourceDTO{
		ID:     sourceID,
		Kind:   catalog.SourceKindMCPPlugin,
		Plugin: &catalog.PluginConfig{Command: "mcp-server"},
	}
	return tool, source
}

func TestPluginTransportDispatchSuccess(t *testing.T) {
	fake := &fakeMCPClient{}
	tool, source := newTestTool("src-1")

	var dialed int
	pt := NewPluginTransport(nil, func(*store.SourceDTO) (mcpClient, error) {
		dialed++
		return fake, nil
	})

	result, err := pt.Dispatch(context.Background(), tool, source, map[string]any{"a": 1}, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 1, dialed)
	require.Equal(t, 1, fake.calls)
}

func TestPluginTransportReconnectsOnceOnConnectionLoss(t *testing.T) {
	broken := &fakeMCPClient{callOnErr: errors.New("connection reset")}
	fresh := &fakeMCPClient{}
	tool, source := newTestTool("src-2")

	dials := []*fakeMCPClient{broken, fresh}
	i := 0
	pt := NewPluginTransport(nil, func(*store.SourceDTO) (mcpClient, error) {
		c := dials[i]
		i++
		return c, nil
	})

	result, err := pt.Dispatch(context.Background(), tool, source, map[string]any{}, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 2, i, "expected exactly one reconnect dial after connection loss")
}

func TestPluginTransportResultTranslatesMCPError(t *testing.T) {
	fake := &fakeMCPClient{isError: true}
	tool, source := newTestTool("src-3")
	pt := NewPluginTransport(nil, func(*store.SourceDTO) (mcpClient, error) {
		return fake, nil
	})

	result, err := pt.Dispatch(context.Background(), tool, source, map[string]any{}, "")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "ok", result.Error)
}

func TestPluginTransportClose(t *testing.T) {
	fake := &fakeMCPClient{}
	_, source := newTestTool("src-4")
	pt := NewPluginTransport(nil, func(*store.SourceDTO) (mcpClient, error) {
		return fake, nil
	})
	tool, _ := newTestTool("src-4")
	_, err := pt.Dispatch(context.Background(), tool, source, map[string]any{}, "")
	require.NoError(t, err)

	require.NoError(t, pt.Close())
	require.True(t, fake.closed)
}
