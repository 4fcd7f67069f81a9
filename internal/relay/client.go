// Package relay implements the worker side of the gateway relay: raw HTTP
// helpers for the gateway's internal endpoints and the activity facade that
// workflow code reaches them through.
//
// Transport failures never escape this package as raw errors; they are
// converted to booleans (notifications) or error-tagged maps (requests) at
// the boundary.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskgate/taskgate/internal/config"
	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/pkg/logger"
)

// GatewayTokenHeader is the custom header carrying the shared gateway secret.
// The same token is also sent as a bearer Authorization header.
const GatewayTokenHeader = wire.GatewayTokenHeader

// defaultCallTimeout bounds log/prompt/notify HTTP calls when the
// environment does not say otherwise.
const defaultCallTimeout = 10 * time.Second

// ErrNotInWorkflow is the error tag returned when an async relay is
// attempted outside any workflow or activity context.
const ErrNotInWorkflow = "not_in_workflow_or_activity"

// ResolveGatewayURL resolves the gateway base URL.
//
// Precedence: explicit override > context-bound URL > TASKGATE_GATEWAY_URL >
// the local dev default.
func ResolveGatewayURL(override, contextURL string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if contextURL != "" {
		return strings.TrimRight(contextURL, "/")
	}
	if env := os.Getenv("TASKGATE_GATEWAY_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return config.DefaultGatewayURL
}

// Client issues relay calls against one gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Options configures a relay client. Zero values fall back to the
// environment and dev defaults.
type Options struct {
	// GatewayURL overrides the gateway base URL.
	GatewayURL string
	// ContextURL is the context-bound URL (e.g. from a workflow memo).
	ContextURL string
	// GatewayToken overrides TASKGATE_GATEWAY_TOKEN.
	GatewayToken string
}

// NewClient creates a relay client with resolved URL and token.
func NewClient(opts Options) *Client {
	token := opts.GatewayToken
	if token == "" {
		token = os.Getenv("TASKGATE_GATEWAY_TOKEN")
	}
	return &Client{
		baseURL: ResolveGatewayURL(opts.GatewayURL, opts.ContextURL),
		token:   token,
		// Per-call timeouts come from contexts so requests can be unbounded.
		http: &http.Client{},
	}
}

// BaseURL returns the resolved gateway base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, body any) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(GatewayTokenHeader, c.token)
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func callTimeout() time.Duration {
	raw := os.Getenv("TASKGATE_GATEWAY_TIMEOUT")
	if raw == "" {
		return defaultCallTimeout
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return defaultCallTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

// Log forwards a workflow log line to the gateway. Best-effort: any
// transport failure or non-2xx status yields false.
func (c *Client) Log(ctx context.Context, executionID, level, namespace, message string, data map[string]any) bool {
	if data == nil {
		data = map[string]any{}
	}
	status, body, err := c.post(ctx, "/internal/workflows/log", callTimeout(), map[string]any{
		"execution_id": executionID,
		"level":        level,
		"namespace":    namespace,
		"message":      message,
		"data":         data,
	})
	if err != nil || status >= 400 {
		return false
	}
	var ack struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.OK == nil {
		return true
	}
	return *ack.OK
}

// Ask relays a human prompt through the gateway. Returns the gateway's JSON
// body, or an error-tagged map on failure.
func (c *Client) Ask(ctx context.Context, executionID, prompt string, metadata map[string]any) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}
	status, body, err := c.post(ctx, "/internal/human/prompts", callTimeout(), map[string]any{
		"execution_id": executionID,
		"prompt":       map[string]any{"text": prompt},
		"metadata":     metadata,
	})
	if err != nil {
		return map[string]any{"error": "request_failed"}
	}
	if status >= 400 {
		return map[string]any{"error": string(body)}
	}
	return decodeJSONBody(body)
}

// Notify relays a fire-and-forget notification. Returns false on any
// transport failure or non-2xx status; never raises.
func (c *Client) Notify(ctx context.Context, executionID, method string, params map[string]any) bool {
	if params == nil {
		params = map[string]any{}
	}
	path := "/internal/session/by-run/" + url.PathEscape(executionID) + "/notify"
	status, body, err := c.post(ctx, path, callTimeout(), map[string]any{
		"method": method,
		"params": params,
	})
	if err != nil || status >= 400 {
		return false
	}
	var ack struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.OK == nil {
		return true
	}
	return *ack.OK
}

// Request relays a request through the gateway.
//
// When makeAsync is true the caller must be inside a workflow or activity
// context (hard precondition); a fresh signal name is generated and the
// gateway's async endpoint is invoked, returning {"error":"", "signal_name"}
// without waiting for the reply. When makeAsync is false the synchronous
// endpoint is used and the reply JSON is returned directly; this call may
// legitimately block until the upstream client answers.
func (c *Client) Request(ctx context.Context, rt engine.Runtime, makeAsync bool, executionID, method string, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}

	if makeAsync {
		info, ok := infoFromRuntime(rt)
		if !ok {
			return map[string]any{"error": ErrNotInWorkflow}
		}

		signalName := fmt.Sprintf("taskgate_rpc_%s_%s", method, strings.ReplaceAll(uuid.NewString(), "-", ""))
		path := "/internal/session/by-run/" + url.PathEscape(info.WorkflowID) +
			"/" + url.PathEscape(executionID) + "/async-request"
		status, body, err := c.post(ctx, path, config.RequestTimeoutFromEnv(), map[string]any{
			"method":      method,
			"params":      params,
			"signal_name": signalName,
		})
		if err != nil {
			return map[string]any{"error": "request_failed"}
		}
		if status >= 400 {
			return map[string]any{"error": string(body)}
		}
		return map[string]any{"error": "", "signal_name": signalName}
	}

	path := "/internal/session/by-run/" + url.PathEscape(executionID) + "/request"
	status, body, err := c.post(ctx, path, config.RequestTimeoutFromEnv(), map[string]any{
		"method": method,
		"params": params,
	})
	if err != nil {
		return map[string]any{"error": "request_failed"}
	}
	if status >= 400 {
		return map[string]any{"error": string(body)}
	}
	return decodeJSONBody(body)
}

func infoFromRuntime(rt engine.Runtime) (engine.WorkflowInfo, bool) {
	if rt == nil {
		return engine.WorkflowInfo{}, false
	}
	return rt.Info()
}

func decodeJSONBody(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{"error": "invalid_response"}
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		logger.Debugf("gateway returned non-JSON body: %v", err)
		return map[string]any{"error": "invalid_response"}
	}
	return out
}
