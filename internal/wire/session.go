package wire

// Typed payloads for the session-level operations built on top of the
// generic notify/request relay.

// SamplingMessage is a single message in a sampling conversation.
type SamplingMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message content object (text, image, ...).
	Content map[string]any `json:"content"`
}

// CreateMessageParams is the "sampling/createMessage" request payload.
type CreateMessageParams struct {
	// Messages is the conversation to sample from.
	Messages []SamplingMessage `json:"messages"`
	// MaxTokens bounds the completion length.
	MaxTokens int `json:"maxTokens"`
	// SystemPrompt optionally overrides the system prompt.
	SystemPrompt string `json:"systemPrompt,omitempty"`
	// IncludeContext selects how much server context to include.
	IncludeContext string `json:"includeContext,omitempty"`
	// Temperature is the sampling temperature.
	Temperature *float64 `json:"temperature,omitempty"`
	// StopSequences stops generation on any match.
	StopSequences []string `json:"stopSequences,omitempty"`
	// Metadata carries provider-specific options.
	Metadata map[string]any `json:"metadata,omitempty"`
	// ModelPreferences hints model selection to the client.
	ModelPreferences map[string]any `json:"modelPreferences,omitempty"`
	// RelatedRequestID threads the originating request id when present.
	RelatedRequestID string `json:"related_request_id,omitempty"`
}

// CreateMessageResult is the "sampling/createMessage" reply payload.
type CreateMessageResult struct {
	// Role is the role of the sampled message (normally "assistant").
	Role string `json:"role"`
	// Content is the sampled message content object.
	Content map[string]any `json:"content"`
	// Model names the model that produced the completion.
	Model string `json:"model"`
	// StopReason reports why generation stopped.
	StopReason string `json:"stopReason,omitempty"`
}

// ElicitParams is the "elicitation/create" request payload.
type ElicitParams struct {
	// Message is the question presented to the user.
	Message string `json:"message"`
	// RequestedSchema is the JSON schema the answer must satisfy.
	RequestedSchema map[string]any `json:"requestedSchema"`
	// RelatedRequestID threads the originating request id when present.
	RelatedRequestID string `json:"related_request_id,omitempty"`
}

// ElicitResult is the "elicitation/create" reply payload.
type ElicitResult struct {
	// Action is "accept", "decline" or "cancel".
	Action string `json:"action"`
	// Content is the user-provided answer when Action is "accept".
	Content map[string]any `json:"content,omitempty"`
}

// ProgressParams is the "notifications/progress" payload.
type ProgressParams struct {
	// ProgressToken identifies the operation being reported on.
	ProgressToken string `json:"progressToken"`
	// Progress is the amount of work completed so far.
	Progress float64 `json:"progress"`
	// Total is the total amount of work, when known.
	Total *float64 `json:"total,omitempty"`
	// Message is an optional human-readable status line.
	Message string `json:"message,omitempty"`
	// RelatedRequestID threads the originating request id when present.
	RelatedRequestID string `json:"related_request_id,omitempty"`
}

// LogMessageParams is the "notifications/message" payload.
type LogMessageParams struct {
	// Level is the log severity.
	Level string `json:"level"`
	// Data carries the log message and structured fields.
	Data map[string]any `json:"data"`
	// Logger is the originating logger namespace.
	Logger string `json:"logger,omitempty"`
	// RelatedRequestID threads the originating request id when present.
	RelatedRequestID string `json:"related_request_id,omitempty"`
}
