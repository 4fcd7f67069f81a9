// Package proxy presents a uniform live-session surface (notifications,
// request/response, sampling, elicitation, logging, progress) to code that
// may be running inside the deterministic workflow sandbox or in ordinary
// activity/async code.
//
// Inside the sandbox every relay goes through a durable activity so replay
// stays deterministic; outside it, relays go straight to the gateway. The
// dispatch decision is made once per call from the injected Runtime.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/internal/identity"
	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/pkg/logger"
)

// Relayer is the downstream surface a relay call lands on. The sandboxed
// variant schedules durable activities; the direct variant performs the HTTP
// calls immediately (relay.SystemActivities satisfies it).
type Relayer interface {
	ForwardLog(ctx context.Context, executionID, level, namespace, message string, data map[string]any) bool
	RelayNotify(ctx context.Context, executionID, method string, params map[string]any) bool
	RelayRequest(ctx context.Context, makeAsync bool, executionID, method string, params map[string]any) map[string]any
}

// IdentityResolver resolves the identity bound to an execution id. The
// second return is false when no identity is bound.
type IdentityResolver func(executionID string) (identity.Identity, bool)

// Config wires a SessionProxy.
type Config struct {
	// Runtime answers the sandbox-or-direct dispatch question.
	Runtime engine.Runtime
	// Waiter suspends sandboxed requests until their reply signal fires.
	Waiter engine.SignalWaiter
	// Activities is the durable (activity-scheduling) relayer used inside
	// the sandbox.
	Activities Relayer
	// Direct is the immediate relayer used outside the sandbox.
	Direct Relayer
	// ExecutionID resolves the execution id of the current call. When nil,
	// the run id from Runtime.Info is used.
	ExecutionID func() string
	// ResolveIdentity looks up the identity bound to an execution id.
	// Optional; the default synthetic identity is used when unresolved.
	ResolveIdentity IdentityResolver
}

// SessionProxy relays session operations to the upstream client through the
// gateway, regardless of the caller's execution context.
type SessionProxy struct {
	cfg Config

	// RPC is the low-level facade exposing bare notify/request.
	RPC *RPC
}

// New creates a SessionProxy.
func New(cfg Config) *SessionProxy {
	p := &SessionProxy{cfg: cfg}
	p.RPC = &RPC{proxy: p}
	return p
}

func (p *SessionProxy) executionID() string {
	if p.cfg.ExecutionID != nil {
		return p.cfg.ExecutionID()
	}
	if p.cfg.Runtime != nil {
		if info, ok := p.cfg.Runtime.Info(); ok {
			return info.RunID
		}
	}
	return ""
}

func (p *SessionProxy) sandboxed() bool {
	return p.cfg.Runtime != nil && p.cfg.Runtime.Mode() == engine.ModeSandboxed
}

// withIdentity returns ctx carrying the caller's identity. The binding is
// per call chain: concurrent relays each see only their own identity, and
// the caller's context is untouched.
func (p *SessionProxy) withIdentity(ctx context.Context, executionID string) context.Context {
	id := identity.Default
	if p.cfg.ResolveIdentity != nil && executionID != "" {
		if resolved, ok := p.cfg.ResolveIdentity(executionID); ok {
			id = resolved
		}
	}
	return identity.With(ctx, id)
}

// Notify sends a server->client notification via the gateway. Best-effort:
// transport failures are reported as false, never as errors.
func (p *SessionProxy) Notify(ctx context.Context, method string, params map[string]any) bool {
	execID := p.executionID()
	if execID == "" {
		return false
	}
	ctx = p.withIdentity(ctx, execID)

	if p.sandboxed() {
		return p.cfg.Activities.RelayNotify(ctx, execID, method, params)
	}

	// Fire-and-forget: log forwarding and similar notifications must not
	// slow down the caller. WithoutCancel keeps the identity binding alive
	// past the caller's return.
	go p.cfg.Direct.RelayNotify(context.WithoutCancel(ctx), execID, method, params)
	return true
}

// Request sends a server->client request and returns the client's reply as
// a plain JSON-decoded map. Transport failures arrive as error-tagged maps;
// only invocation-level failures (signal wait interrupted, undecodable
// payload) surface as errors.
func (p *SessionProxy) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	execID := p.executionID()
	if execID == "" {
		return map[string]any{"error": "missing_execution_id"}, nil
	}
	ctx = p.withIdentity(ctx, execID)

	if !p.sandboxed() {
		return p.cfg.Direct.RelayRequest(ctx, false, execID, method, params), nil
	}

	ack := p.cfg.Activities.RelayRequest(ctx, true, execID, method, params)
	if errText, _ := ack["error"].(string); errText != "" {
		return ack, nil
	}
	signalName, _ := ack["signal_name"].(string)
	if signalName == "" {
		return map[string]any{"error": "no_signal_name_returned_from_activity"}, nil
	}

	info, ok := p.cfg.Runtime.Info()
	if !ok {
		return nil, fmt.Errorf("request %s: no workflow info in sandboxed context", method)
	}

	// Suspend on the reply signal for this run. The wait is durable;
	// timeout enforcement is delegated to the engine's workflow and
	// activity timeout configuration.
	raw, err := p.cfg.Waiter.WaitForSignal(ctx, signalName, info.WorkflowID, info.RunID)
	if err != nil {
		return nil, fmt.Errorf("request %s: waiting for reply signal: %w", method, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("request %s: decoding reply payload: %w", method, err)
	}
	return payload, nil
}

// SendLogMessage forwards a log record to the connected client's UI.
// Best-effort; inside the sandbox it prefers the dedicated log-forwarding
// activity for determinism.
func (p *SessionProxy) SendLogMessage(ctx context.Context, level string, data map[string]any, loggerName string) {
	execID := p.executionID()
	ctx = p.withIdentity(ctx, execID)

	if p.sandboxed() && execID != "" {
		namespace, _ := data["namespace"].(string)
		if namespace == "" {
			namespace = loggerName
		}
		if namespace == "" {
			namespace = "taskgate"
		}
		message, _ := data["message"].(string)
		if p.cfg.Activities.ForwardLog(ctx, execID, level, namespace, message, data) {
			return
		}
		logger.Debugf("log forwarding activity failed, falling back to notify")
	}

	params := map[string]any{
		"level":  level,
		"data":   data,
		"logger": loggerName,
	}
	p.Notify(ctx, wire.MethodLogMessage, params)
}

// SendProgressNotification reports progress on a long-running operation.
func (p *SessionProxy) SendProgressNotification(ctx context.Context, progressToken string, progress float64, total *float64, message string) {
	params := map[string]any{
		"progressToken": progressToken,
		"progress":      progress,
	}
	if total != nil {
		params["total"] = *total
	}
	if message != "" {
		params["message"] = message
	}
	p.Notify(ctx, wire.MethodProgress, params)
}

// SendResourceUpdated notifies that a resource changed.
func (p *SessionProxy) SendResourceUpdated(ctx context.Context, uri string) {
	p.Notify(ctx, wire.MethodResourceUpdated, map[string]any{"uri": uri})
}

// SendResourceListChanged notifies that the resource list changed.
func (p *SessionProxy) SendResourceListChanged(ctx context.Context) {
	p.Notify(ctx, wire.MethodResourceListChanged, map[string]any{})
}

// SendToolListChanged notifies that the tool list changed.
func (p *SessionProxy) SendToolListChanged(ctx context.Context) {
	p.Notify(ctx, wire.MethodToolListChanged, map[string]any{})
}

// SendPromptListChanged notifies that the prompt list changed.
func (p *SessionProxy) SendPromptListChanged(ctx context.Context) {
	p.Notify(ctx, wire.MethodPromptListChanged, map[string]any{})
}

// Ping round-trips a ping through the upstream client.
func (p *SessionProxy) Ping(ctx context.Context) error {
	result, err := p.Request(ctx, wire.MethodPing, map[string]any{})
	if err != nil {
		return err
	}
	if errText, _ := result["error"].(string); errText != "" {
		return fmt.Errorf("%s failed: %s", wire.MethodPing, errText)
	}
	return nil
}

// ListRoots asks the upstream client for its root list.
func (p *SessionProxy) ListRoots(ctx context.Context) (map[string]any, error) {
	result, err := p.Request(ctx, wire.MethodListRoots, map[string]any{})
	if err != nil {
		return nil, err
	}
	if errText, _ := result["error"].(string); errText != "" {
		return nil, fmt.Errorf("%s failed: %s", wire.MethodListRoots, errText)
	}
	return result, nil
}

// CreateMessage relays an LLM sampling request to the upstream client and
// validates the typed result.
func (p *SessionProxy) CreateMessage(ctx context.Context, params wire.CreateMessageParams) (wire.CreateMessageResult, error) {
	raw, err := p.Request(ctx, wire.MethodCreateMessage, toMap(params))
	if err != nil {
		return wire.CreateMessageResult{}, err
	}
	var result wire.CreateMessageResult
	if err := decodeResult(raw, &result); err != nil || result.Role == "" || result.Content == nil {
		return wire.CreateMessageResult{}, invalidResultError(wire.MethodCreateMessage, raw, err)
	}
	return result, nil
}

// Elicit relays a user confirmation/input request to the upstream client
// and validates the typed result.
func (p *SessionProxy) Elicit(ctx context.Context, params wire.ElicitParams) (wire.ElicitResult, error) {
	raw, err := p.Request(ctx, wire.MethodElicit, toMap(params))
	if err != nil {
		return wire.ElicitResult{}, err
	}
	var result wire.ElicitResult
	if err := decodeResult(raw, &result); err != nil || result.Action == "" {
		return wire.ElicitResult{}, invalidResultError(wire.MethodElicit, raw, err)
	}
	return result, nil
}

// RPC is a lightweight facade mimicking the low-level RPC interface on live
// sessions.
type RPC struct {
	proxy *SessionProxy
}

// Notify sends a bare notification.
func (r *RPC) Notify(ctx context.Context, method string, params map[string]any) bool {
	return r.proxy.Notify(ctx, method, params)
}

// Request sends a bare request and returns the reply map.
func (r *RPC) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return r.proxy.Request(ctx, method, params)
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func decodeResult(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func invalidResultError(method string, raw map[string]any, cause error) error {
	if errText, _ := raw["error"].(string); errText != "" {
		return fmt.Errorf("%s failed: %s", method, errText)
	}
	if cause != nil {
		return fmt.Errorf("%s returned invalid result: %w", method, cause)
	}
	return fmt.Errorf("%s returned invalid result", method)
}
