package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/pkg/logger"
)

// Relay methods a workflow may ask for asynchronously. Everything else is
// rejected before touching the upstream session.
var asyncRelayMethods = map[string]struct{}{
	wire.MethodCreateMessage: {},
	wire.MethodElicit:        {},
}

// Handlers serves the internal relay endpoints workers call.
type Handlers struct {
	registry *SessionRegistry
	prompts  *PendingPrompts
	dedupe   *notifyDeduper
	signaler engine.Signaler
	token    string
}

// NewHandlers wires the relay handlers. token is the shared gateway secret;
// empty means the internal endpoints are open (dev mode).
func NewHandlers(registry *SessionRegistry, prompts *PendingPrompts, signaler engine.Signaler, token string) *Handlers {
	return &Handlers{
		registry: registry,
		prompts:  prompts,
		dedupe:   newNotifyDeduper(),
		signaler: signaler,
		token:    token,
	}
}

// RegisterRoutes mounts the internal relay endpoints on the router.
//
// The first path parameter is :id because gin requires one wildcard name
// per position: it holds the execution id on single-segment routes and the
// workflow id on the async-request route.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	internal := r.Group("/internal", h.AuthMiddleware())

	internal.POST("/workflows/log", h.RelayLog)

	byRun := internal.Group("/session/by-run")
	byRun.POST("/:id/notify", h.RelayNotify)
	byRun.POST("/:id/request", h.RelayRequest)
	byRun.GET("/:id/attach", h.Attach)
	byRun.POST("/:id/:execution_id/async-request", h.RelayAsyncRequest)

	internal.POST("/human/prompts", h.CreatePrompt)
	internal.GET("/human/prompts", h.ListPrompts)
	internal.POST("/human/prompts/:request_id/submit", h.SubmitPrompt)
}

// AuthMiddleware validates the shared gateway token with a constant-time
// compare. The token is accepted from the dedicated header or as a bearer
// Authorization header.
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.token == "" {
			c.Next()
			return
		}

		candidate := c.GetHeader(wire.GatewayTokenHeader)
		if candidate == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				candidate = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(candidate), []byte(h.token)) != 1 {
			c.JSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RelayLog handles POST /internal/workflows/log.
func (h *Handlers) RelayLog(c *gin.Context) {
	var env wire.LogEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	sess, ok := h.registry.Get(env.ExecutionID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, wire.Ack{OK: false, Error: "session_not_available"})
		return
	}

	data := map[string]any{"message": env.Message}
	for k, v := range env.Data {
		data[k] = v
	}
	if sess.LogSessionID != "" {
		data["session_id"] = sess.LogSessionID
	}

	err := sess.Upstream.SendLogMessage(c.Request.Context(), wire.LogMessageParams{
		Level:  env.Level,
		Logger: env.Namespace,
		Data:   data,
	})
	if err != nil {
		logger.Debugf("log relay to execution %s failed: %v", env.ExecutionID, err)
		c.JSON(http.StatusOK, wire.Ack{OK: false, Error: "delivery_failed"})
		return
	}
	c.JSON(http.StatusOK, wire.Ack{OK: true})
}

// RelayNotify handles POST /internal/session/by-run/:id/notify.
func (h *Handlers) RelayNotify(c *gin.Context) {
	executionID := c.Param("id")

	var env wire.NotifyEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	if env.Method == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "missing_method"})
		return
	}

	if env.IdempotencyKey != "" && h.dedupe.Seen(executionID, env.IdempotencyKey) {
		c.JSON(http.StatusOK, wire.Ack{OK: true, Idempotent: true})
		return
	}

	sess, ok := h.registry.Get(executionID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, wire.Ack{OK: false, Error: "session_not_available"})
		return
	}

	if err := sess.Upstream.Notify(c.Request.Context(), env.Method, env.Params); err != nil {
		logger.Debugf("notify %s to execution %s failed: %v", env.Method, executionID, err)
		c.JSON(http.StatusOK, wire.Ack{OK: false, Error: "delivery_failed"})
		return
	}
	c.JSON(http.StatusOK, wire.Ack{OK: true})
}

// RelayRequest handles POST /internal/session/by-run/:id/request. It blocks
// until the upstream client replies.
func (h *Handlers) RelayRequest(c *gin.Context) {
	executionID := c.Param("id")

	var env wire.RequestEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	if env.Method == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "missing_method"})
		return
	}

	sess, ok := h.registry.Get(executionID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{Error: "session_not_available"})
		return
	}

	result, err := sess.Upstream.Request(c.Request.Context(), env.Method, env.Params)
	if err != nil {
		logger.Warnf("request %s to execution %s failed: %v", env.Method, executionID, err)
		c.JSON(http.StatusBadGateway, wire.ErrorResponse{Error: "upstream_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RelayAsyncRequest handles
// POST /internal/session/by-run/:id/:execution_id/async-request.
//
// The request is acknowledged immediately; the upstream round trip happens
// in the background and its result is delivered to the workflow run as the
// named signal.
func (h *Handlers) RelayAsyncRequest(c *gin.Context) {
	workflowID := c.Param("id")
	executionID := c.Param("execution_id")

	var env wire.AsyncRequestEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	if _, ok := asyncRelayMethods[env.Method]; !ok {
		c.JSON(http.StatusMethodNotAllowed, wire.ErrorResponse{Error: "unsupported_method"})
		return
	}
	if env.SignalName == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "missing_signal_name"})
		return
	}

	sess, ok := h.registry.Get(executionID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{Error: "session_not_available"})
		return
	}

	go h.completeAsyncRequest(sess, workflowID, executionID, env)

	c.JSON(http.StatusOK, wire.AsyncRequestAck{
		Status:      "received",
		ExecutionID: executionID,
		Method:      env.Method,
		SignalName:  env.SignalName,
	})
}

func (h *Handlers) completeAsyncRequest(sess *Session, workflowID, executionID string, env wire.AsyncRequestEnvelope) {
	ctx := context.Background()

	result, err := sess.Upstream.Request(ctx, env.Method, env.Params)
	if err != nil {
		logger.Warnf("async %s for execution %s failed upstream: %v", env.Method, executionID, err)
		result = map[string]any{"error": "upstream_failed"}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		logger.Errorf("async %s for execution %s: marshal result: %v", env.Method, executionID, err)
		payload = []byte(`{"error":"invalid_response"}`)
	}

	if err := h.signaler.SignalWorkflow(ctx, workflowID, executionID, env.SignalName, payload); err != nil {
		logger.Errorf("async %s for execution %s: signal %s delivery failed: %v",
			env.Method, executionID, env.SignalName, err)
	}
}

// CreatePrompt handles POST /internal/human/prompts. The prompt is parked
// until a later submit; the upstream session gets a best-effort heads-up.
func (h *Handlers) CreatePrompt(c *gin.Context) {
	var env wire.PromptEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	if env.ExecutionID == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "missing_execution_id"})
		return
	}

	pending := h.prompts.Create(env.ExecutionID, env.Prompt, env.Metadata)

	if sess, ok := h.registry.Get(env.ExecutionID); ok {
		go func() {
			err := sess.Upstream.SendLogMessage(context.Background(), wire.LogMessageParams{
				Level: "info",
				Data: map[string]any{
					"type":       "human_input_request",
					"request_id": pending.RequestID,
					"prompt":     pending.Prompt.Text,
					"metadata":   pending.Metadata,
				},
			})
			if err != nil {
				logger.Debugf("prompt heads-up for execution %s failed: %v", env.ExecutionID, err)
			}
		}()
	}

	c.JSON(http.StatusOK, wire.PromptAck{RequestID: pending.RequestID})
}

// ListPrompts handles GET /internal/human/prompts?execution_id=...
func (h *Handlers) ListPrompts(c *gin.Context) {
	executionID := c.Query("execution_id")
	if executionID == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "missing_execution_id"})
		return
	}

	pending := h.prompts.List(executionID)
	out := make([]gin.H, len(pending))
	for i, p := range pending {
		out[i] = gin.H{
			"request_id":   p.RequestID,
			"execution_id": p.ExecutionID,
			"prompt":       p.Prompt,
			"metadata":     p.Metadata,
			"created_at":   p.CreatedAt.UnixMilli(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"prompts": out})
}

// SubmitPrompt handles POST /internal/human/prompts/:request_id/submit. The
// answer wakes the workflow through the signal named in the prompt metadata.
func (h *Handlers) SubmitPrompt(c *gin.Context) {
	requestID := c.Param("request_id")

	var answer wire.PromptAnswer
	if err := c.ShouldBindJSON(&answer); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	pending, ok := h.prompts.Resolve(requestID)
	if !ok {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "unknown_prompt"})
		return
	}

	signalName, _ := pending.Metadata["signal_name"].(string)
	if signalName == "" {
		signalName = "human_input"
	}
	workflowID, _ := pending.Metadata["workflow_id"].(string)

	payload, err := json.Marshal(map[string]any{
		"request_id": pending.RequestID,
		"response":   json.RawMessage(answer.Response),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "invalid_response"})
		return
	}

	if err := h.signaler.SignalWorkflow(c.Request.Context(), workflowID, pending.ExecutionID, signalName, payload); err != nil {
		logger.Warnf("prompt %s: signal %s delivery failed: %v", requestID, signalName, err)
		c.JSON(http.StatusBadGateway, wire.Ack{OK: false, Error: "signal_failed"})
		return
	}
	c.JSON(http.StatusOK, wire.Ack{OK: true})
}
