package relay

import (
	"context"

	"github.com/taskgate/taskgate/internal/config"
	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/pkg/logger"
)

// Activity names registered with the durable-execution worker.
const (
	ActivityForwardLog       = "taskgate_forward_log"
	ActivityRequestUserInput = "taskgate_request_user_input"
	ActivityRelayNotify      = "taskgate_relay_notify"
	ActivityRelayRequest     = "taskgate_relay_request"
)

// SystemActivities is the activity-visible facade workflows use to reach the
// gateway. The same methods serve as plain helpers for non-sandboxed code.
type SystemActivities struct {
	client  *Client
	runtime engine.Runtime
}

// NewSystemActivities builds the facade around a relay client. rt answers
// the workflow/activity-context precondition for async requests.
func NewSystemActivities(client *Client, rt engine.Runtime) *SystemActivities {
	return &SystemActivities{client: client, runtime: rt}
}

// ForwardLog relays a workflow log line to the connected client's UI.
func (a *SystemActivities) ForwardLog(ctx context.Context, executionID, level, namespace, message string, data map[string]any) bool {
	return a.client.Log(ctx, executionID, level, namespace, message, data)
}

// RequestUserInput relays a human input prompt. Returns {result} or {error}.
func (a *SystemActivities) RequestUserInput(ctx context.Context, sessionID, workflowID, executionID, prompt, signalName string) map[string]any {
	if signalName == "" {
		signalName = "human_input"
	}
	return a.client.Ask(ctx, executionID, prompt, map[string]any{
		"session_id":  sessionID,
		"workflow_id": workflowID,
		"signal_name": signalName,
	})
}

// RelayNotify relays a notification with fire-and-forget semantics, bounded
// by the configured notify timeout so it can never stall workflow progress.
func (a *SystemActivities) RelayNotify(ctx context.Context, executionID, method string, params map[string]any) bool {
	timeout := config.NotifyTimeoutFromEnv()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok := a.client.Notify(ctx, executionID, method, params)
	if !ok {
		logger.Debugf("relay notify %s for execution %s failed or timed out", method, executionID)
	}
	return ok
}

// RelayRequest relays a request. See Client.Request for the async/sync
// contract; the async path additionally requires the caller to be inside a
// workflow or activity context.
func (a *SystemActivities) RelayRequest(ctx context.Context, makeAsync bool, executionID, method string, params map[string]any) map[string]any {
	return a.client.Request(ctx, a.runtime, makeAsync, executionID, method, params)
}
