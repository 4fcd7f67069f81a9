package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/taskgate/taskgate/internal/identity"
	"github.com/taskgate/taskgate/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeUpstream records delivered traffic and serves canned replies.
type fakeUpstream struct {
	mu       sync.Mutex
	logs     []wire.LogMessageParams
	notifies []wire.NotifyEnvelope
	requests []wire.RequestEnvelope

	notifyErr  error
	requestRes map[string]any
	requestErr error
}

func (f *fakeUpstream) SendLogMessage(_ context.Context, params wire.LogMessageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, params)
	return nil
}

func (f *fakeUpstream) Notify(_ context.Context, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, wire.NotifyEnvelope{Method: method, Params: params})
	return f.notifyErr
}

func (f *fakeUpstream) Request(_ context.Context, method string, params map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, wire.RequestEnvelope{Method: method, Params: params})
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	if f.requestRes != nil {
		return f.requestRes, nil
	}
	return map[string]any{}, nil
}

func (f *fakeUpstream) notifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifies)
}

type signalDelivery struct {
	workflowID string
	runID      string
	signalName string
	payload    json.RawMessage
}

type fakeSignaler struct {
	mu        sync.Mutex
	delivered []signalDelivery
	err       error
	notify    chan struct{}
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{notify: make(chan struct{}, 16)}
}

func (f *fakeSignaler) SignalWorkflow(_ context.Context, workflowID, runID, signalName string, payload any) error {
	raw, _ := json.Marshal(payload)
	if b, ok := payload.([]byte); ok {
		raw = b
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, signalDelivery{workflowID, runID, signalName, raw})
	err := f.err
	f.mu.Unlock()
	f.notify <- struct{}{}
	return err
}

func (f *fakeSignaler) last() signalDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[len(f.delivered)-1]
}

type testGateway struct {
	router   *gin.Engine
	handlers *Handlers
	registry *SessionRegistry
	prompts  *PendingPrompts
	signaler *fakeSignaler
}

func newTestGateway(token string) *testGateway {
	registry := NewSessionRegistry()
	prompts := NewPendingPrompts()
	signaler := newFakeSignaler()
	handlers := NewHandlers(registry, prompts, signaler, token)

	router := gin.New()
	handlers.RegisterRoutes(router)

	return &testGateway{
		router:   router,
		handlers: handlers,
		registry: registry,
		prompts:  prompts,
		signaler: signaler,
	}
}

func (g *testGateway) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuth_TokenRequired(t *testing.T) {
	g := newTestGateway("s3cret")
	body := wire.NotifyEnvelope{Method: wire.MethodPing}

	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body,
		map[string]string{wire.GatewayTokenHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct token via either header form gets past auth (503 since no
	// session is registered).
	w = g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body,
		map[string]string{wire.GatewayTokenHeader: "s3cret"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body,
		map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuth_NoTokenConfiguredIsOpen(t *testing.T) {
	g := newTestGateway("")
	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify",
		wire.NotifyEnvelope{Method: wire.MethodPing}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRelayNotify_DeliversToSession(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify",
		wire.NotifyEnvelope{Method: wire.MethodProgress, Params: map[string]any{"progress": 1.0}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["ok"])
	require.Equal(t, 1, up.notifyCount())
}

func TestRelayNotify_SessionGoneAfterUnregister(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "")
	require.True(t, g.registry.Unregister("exec1", up))

	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify",
		wire.NotifyEnvelope{Method: wire.MethodProgress}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "session_not_available", decodeBody(t, w)["error"])
}

func TestRelayNotify_IdempotencyKeySuppressesDuplicate(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "")

	body := wire.NotifyEnvelope{Method: wire.MethodProgress, IdempotencyKey: "k1"}
	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, decodeBody(t, w)["idempotent"])

	w = g.do(t, http.MethodPost, "/internal/session/by-run/exec1/notify", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["idempotent"])
	require.Equal(t, 1, up.notifyCount())
}

func TestRelayRequest_ReturnsUpstreamReply(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{requestRes: map[string]any{"pong": true}}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/request",
		wire.RequestEnvelope{Method: wire.MethodPing, Params: map[string]any{}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["pong"])
}

func TestRelayRequest_UpstreamFailure(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{requestErr: errors.New("conn reset")}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/exec1/request",
		wire.RequestEnvelope{Method: wire.MethodPing}, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRelayAsyncRequest_MethodAllowlist(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/wf1/exec1/async-request",
		wire.AsyncRequestEnvelope{Method: wire.MethodPing, SignalName: "sig"}, nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, "unsupported_method", decodeBody(t, w)["error"])
}

func TestRelayAsyncRequest_MissingSignalName(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/wf1/exec1/async-request",
		wire.AsyncRequestEnvelope{Method: wire.MethodCreateMessage}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "missing_signal_name", decodeBody(t, w)["error"])
}

func TestRelayAsyncRequest_AcksAndSignalsResult(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{requestRes: map[string]any{
		"role":    "assistant",
		"content": map[string]any{"type": "text", "text": "hi"},
		"model":   "test-model",
	}}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/wf1/exec1/async-request",
		wire.AsyncRequestEnvelope{
			Method:     wire.MethodCreateMessage,
			Params:     map[string]any{"maxTokens": 16},
			SignalName: "taskgate_rpc_sampling/createMessage_abc",
		}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	ack := decodeBody(t, w)
	require.Equal(t, "received", ack["status"])
	require.Equal(t, "exec1", ack["execution_id"])

	select {
	case <-g.signaler.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("reply signal was never delivered")
	}

	delivery := g.signaler.last()
	require.Equal(t, "wf1", delivery.workflowID)
	require.Equal(t, "exec1", delivery.runID)
	require.Equal(t, "taskgate_rpc_sampling/createMessage_abc", delivery.signalName)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(delivery.payload, &payload))
	require.Equal(t, "assistant", payload["role"])
}

func TestRelayAsyncRequest_UpstreamFailureSignalsErrorPayload(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{requestErr: errors.New("gone")}
	g.registry.Register("exec1", up, identity.Default, "")

	w := g.do(t, http.MethodPost, "/internal/session/by-run/wf1/exec1/async-request",
		wire.AsyncRequestEnvelope{Method: wire.MethodElicit, SignalName: "sig"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-g.signaler.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("error signal was never delivered")
	}

	var payload map[string]any
	require.NoError(t, json.Unmarshal(g.signaler.last().payload, &payload))
	require.Equal(t, "upstream_failed", payload["error"])
}

func TestRelayAsyncRequest_NoSession(t *testing.T) {
	g := newTestGateway("")
	w := g.do(t, http.MethodPost, "/internal/session/by-run/wf1/exec1/async-request",
		wire.AsyncRequestEnvelope{Method: wire.MethodElicit, SignalName: "sig"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRelayLog_ForwardsWithSessionContext(t *testing.T) {
	g := newTestGateway("")
	up := &fakeUpstream{}
	g.registry.Register("exec1", up, identity.Default, "sess-9")

	w := g.do(t, http.MethodPost, "/internal/workflows/log", wire.LogEnvelope{
		ExecutionID: "exec1",
		Level:       "warning",
		Namespace:   "agent.run",
		Message:     "step slow",
		Data:        map[string]any{"elapsed_ms": 1200},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["ok"])

	up.mu.Lock()
	defer up.mu.Unlock()
	require.Len(t, up.logs, 1)
	require.Equal(t, "warning", up.logs[0].Level)
	require.Equal(t, "agent.run", up.logs[0].Logger)
	require.Equal(t, "step slow", up.logs[0].Data["message"])
	require.Equal(t, "sess-9", up.logs[0].Data["session_id"])
}

func TestRelayLog_NoSession(t *testing.T) {
	g := newTestGateway("")
	w := g.do(t, http.MethodPost, "/internal/workflows/log",
		wire.LogEnvelope{ExecutionID: "exec1", Level: "info", Message: "m"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPrompts_CreateListSubmit(t *testing.T) {
	g := newTestGateway("")

	w := g.do(t, http.MethodPost, "/internal/human/prompts", wire.PromptEnvelope{
		ExecutionID: "exec1",
		Prompt:      wire.Prompt{Text: "Proceed?"},
		Metadata: map[string]any{
			"workflow_id": "wf1",
			"signal_name": "resume_input",
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	requestID, _ := decodeBody(t, w)["request_id"].(string)
	require.NotEmpty(t, requestID)

	w = g.do(t, http.MethodGet, "/internal/human/prompts?execution_id=exec1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), requestID)

	w = g.do(t, http.MethodPost, "/internal/human/prompts/"+requestID+"/submit",
		wire.PromptAnswer{Response: json.RawMessage(`"yes"`)}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	delivery := g.signaler.last()
	require.Equal(t, "wf1", delivery.workflowID)
	require.Equal(t, "exec1", delivery.runID)
	require.Equal(t, "resume_input", delivery.signalName)
	require.True(t, strings.Contains(string(delivery.payload), `"yes"`))

	// A second submit finds nothing pending.
	w = g.do(t, http.MethodPost, "/internal/human/prompts/"+requestID+"/submit",
		wire.PromptAnswer{Response: json.RawMessage(`"yes"`)}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrompts_SubmitUnknownID(t *testing.T) {
	g := newTestGateway("")
	w := g.do(t, http.MethodPost, "/internal/human/prompts/nope/submit",
		wire.PromptAnswer{Response: json.RawMessage(`{}`)}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRegistry_UnregisterIsSessionScoped(t *testing.T) {
	r := NewSessionRegistry()
	first := &fakeUpstream{}
	second := &fakeUpstream{}

	r.Register("exec1", first, identity.Default, "")
	r.Register("exec1", second, identity.Identity{Subject: "u2"}, "")

	// The stale connection's teardown must not evict the reconnect.
	require.False(t, r.Unregister("exec1", first))
	sess, ok := r.Get("exec1")
	require.True(t, ok)
	require.Equal(t, UpstreamSession(second), sess.Upstream)

	id, ok := r.ResolveIdentity("exec1")
	require.True(t, ok)
	require.Equal(t, "u2", id.Subject)

	require.True(t, r.Unregister("exec1", second))
	require.Equal(t, 0, r.Count())
}
