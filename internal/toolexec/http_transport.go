package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
)

const defaultToolTimeout = 30 * time.Second

// HTTPDispatcher dispatches openapi/workflow-sourced tools over plain HTTP
// (§4.2 step 4, "HTTP dispatch: stateless, may run fully concurrently").
// Grounded on the teacher's outbound REST calls (registry/service.go issues
// one-shot http.Client.Do calls per proxied request); no connection state is
// held between calls, so one *http.Client is shared across all sources.
type HTTPDispatcher struct {
	client *http.Client
}

var _ Transport = (*HTTPDispatcher)(nil)

// NewHTTPDispatcher constructs a dispatcher using client, or a default
// client with no overall timeout (per-call timeout instead comes from each
// tool's ExecutionProfile.TimeoutSeconds).
func NewHTTPDispatcher(client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDispatcher{client: client}
}

// Dispatch builds a request from tool.Definition.SourcePath (a
// "METHOD /path/{template}" string) against source.BaseURL, substituting
// path parameters from arguments, routing remaining arguments to the query
// string (GET/DELETE) or a JSON body (POST/PUT/PATCH), and attaching bearer
// as a Bearer token unless the source uses no auth.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, tool *store.ToolDTO, source *store.SourceDTO, arguments map[string]any, bearer string) (Result, error) {
	method, pathTemplate, err := splitSourcePath(tool.Definition.SourcePath)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Internal, err, "parse tool source path")
	}

	remaining := make(map[string]any, len(arguments))
	for k, v := range arguments {
		remaining[k] = v
	}
	path := substitutePathParams(pathTemplate, remaining)

	fullURL := strings.TrimRight(source.BaseURL, "/") + path

	var body io.Reader
	if hasRequestBody(method) {
		raw, err := json.Marshal(remaining)
		if err != nil {
			return Result{}, errkind.Wrap(errkind.Internal, err, "encode request body")
		}
		body = bytes.NewReader(raw)
	} else if len(remaining) > 0 {
		q := url.Values{}
		for k, v := range remaining {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		fullURL += "?" + q.Encode()
	}

	timeout := defaultToolTimeout
	if tool.Definition.ExecutionProfile.TimeoutSeconds > 0 {
		timeout = time.Duration(tool.Definition.ExecutionProfile.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, body)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Internal, err, "build tool request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return Result{}, errkind.Wrap(errkind.Timeout, err, "tool request timed out").WithRetryable(false)
		}
		return Result{}, errkind.Wrap(errkind.UpstreamError, err, "tool request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, errkind.Wrap(errkind.UpstreamError, err, "read tool response")
	}

	result := Result{UpstreamStatus: resp.StatusCode}
	var parsed map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = map[string]any{"raw": string(respBody)}
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Status = StatusCompleted
		result.Result = parsed
		return result, nil
	}

	result.Status = StatusFailed
	result.Error = fmt.Sprintf("upstream returned %d", resp.StatusCode)
	result.Result = parsed
	return result, nil
}

func splitSourcePath(sourcePath string) (method, path string, err error) {
	parts := strings.SplitN(strings.TrimSpace(sourcePath), " ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("source path %q is not \"METHOD /path\"", sourcePath)
	}
	return strings.ToUpper(parts[0]), parts[1], nil
}

// substitutePathParams replaces {name} placeholders in template with string
// values from args, deleting consumed keys so they are not also sent as
// query parameters or body fields.
func substitutePathParams(template string, args map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		if template[i] == '{' {
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				b.WriteString(template[i:])
				break
			}
			name := template[i+1 : i+end]
			if v, ok := args[name]; ok {
				b.WriteString(url.PathEscape(fmt.Sprintf("%v", v)))
				delete(args, name)
			}
			i += end + 1
			continue
		}
		b.WriteByte(template[i])
		i++
	}
	return b.String()
}

func hasRequestBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
