package wire

import "encoding/json"

// GatewayTokenHeader is the custom header carrying the shared gateway
// secret on internal relay calls. The same token is also accepted as a
// bearer Authorization header.
const GatewayTokenHeader = "X-Taskgate-Gateway-Token"

// Relay method names understood by the gateway. Notifications are
// fire-and-forget; requests expect a reply from the upstream client.
const (
	MethodCreateMessage       = "sampling/createMessage"
	MethodElicit              = "elicitation/create"
	MethodLogMessage          = "notifications/message"
	MethodProgress            = "notifications/progress"
	MethodResourceUpdated     = "notifications/resources/updated"
	MethodResourceListChanged = "notifications/resources/list_changed"
	MethodToolListChanged     = "notifications/tools/list_changed"
	MethodPromptListChanged   = "notifications/prompts/list_changed"
	MethodPing                = "ping"
	MethodListRoots           = "roots/list"
)

// NotifyEnvelope is the POST /internal/session/by-run/:execution_id/notify
// request body.
type NotifyEnvelope struct {
	// Method is the notification method name.
	Method string `json:"method"`
	// Params is the notification payload.
	Params map[string]any `json:"params"`
	// IdempotencyKey suppresses duplicate delivery of retried notifies
	// when set.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RequestEnvelope is the POST /internal/session/by-run/:execution_id/request
// request body. The gateway blocks until the upstream client responds.
type RequestEnvelope struct {
	// Method is the request method name.
	Method string `json:"method"`
	// Params is the request payload.
	Params map[string]any `json:"params"`
}

// AsyncRequestEnvelope is the request body for
// POST /internal/session/by-run/:workflow_id/:execution_id/async-request.
//
// The gateway acknowledges immediately and later signals the workflow run
// with the upstream reply using SignalName.
type AsyncRequestEnvelope struct {
	// Method is the request method name.
	Method string `json:"method"`
	// Params is the request payload.
	Params map[string]any `json:"params"`
	// SignalName couples this request to exactly one reply delivery.
	SignalName string `json:"signal_name"`
}

// AsyncRequestAck is the immediate response to an async-request.
type AsyncRequestAck struct {
	// Status is "received" when the request was accepted.
	Status string `json:"status"`
	// ExecutionID echoes the target execution id.
	ExecutionID string `json:"execution_id"`
	// Method echoes the relayed method.
	Method string `json:"method"`
	// SignalName echoes the reply signal name.
	SignalName string `json:"signal_name"`
}

// LogEnvelope is the POST /internal/workflows/log request body.
type LogEnvelope struct {
	// ExecutionID identifies the originating workflow run.
	ExecutionID string `json:"execution_id"`
	// Level is the log severity (debug|info|warning|error).
	Level string `json:"level"`
	// Namespace is the originating logger namespace.
	Namespace string `json:"namespace"`
	// Message is the log message text.
	Message string `json:"message"`
	// Data carries structured log fields.
	Data map[string]any `json:"data"`
}

// Prompt is the human prompt content.
type Prompt struct {
	// Text is the prompt text shown to the user.
	Text string `json:"text"`
}

// PromptEnvelope is the POST /internal/human/prompts request body.
type PromptEnvelope struct {
	// ExecutionID identifies the originating workflow run.
	ExecutionID string `json:"execution_id"`
	// Prompt is the prompt content.
	Prompt Prompt `json:"prompt"`
	// Metadata carries correlation data (workflow_id, signal_name, ...).
	Metadata map[string]any `json:"metadata"`
}

// PromptAck is the response to a prompt submission.
type PromptAck struct {
	// RequestID correlates a later answer with this prompt.
	RequestID string `json:"request_id"`
}

// PromptAnswer is the POST /internal/human/prompts/:request_id/submit body.
type PromptAnswer struct {
	// Response is the user-provided answer.
	Response json.RawMessage `json:"response"`
}

// Ack is a generic {ok} response payload.
type Ack struct {
	// OK indicates whether the operation succeeded.
	OK bool `json:"ok"`
	// Error contains an error message when OK is false.
	Error string `json:"error,omitempty"`
	// Idempotent is true when a duplicate notify was suppressed.
	Idempotent bool `json:"idempotent,omitempty"`
}

// ErrorResponse is a generic JSON response payload with an "error" key.
type ErrorResponse struct {
	// Error contains an error message.
	Error string `json:"error"`
}
