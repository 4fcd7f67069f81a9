package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/taskgate/taskgate/internal/api/middleware"
	"github.com/taskgate/taskgate/internal/crypto"
	"github.com/taskgate/taskgate/internal/workflows"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticHandle struct {
	signalErr error
	cancelErr error
}

func (h staticHandle) Signal(context.Context, string, any) error { return h.signalErr }
func (h staticHandle) Cancel(context.Context) error              { return h.cancelErr }

func newControlAPI(t *testing.T) (*gin.Engine, *workflows.InMemoryRegistry, string) {
	t.Helper()

	jwtManager, err := crypto.NewJWTManager("test-secret")
	require.NoError(t, err)
	token, err := jwtManager.CreateToken("op-1", "", "", time.Hour)
	require.NoError(t, err)

	registry := workflows.NewInMemoryRegistry()

	router := gin.New()
	v1 := router.Group("/v1")
	NewAuthHandler(jwtManager, "test-secret").RegisterRoutes(v1)
	protected := v1.Group("", middleware.Auth(jwtManager))
	NewWorkflowHandler(registry).RegisterRoutes(protected)

	return router, registry, token
}

func doAuthed(t *testing.T, router *gin.Engine, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestControlAPI_RequiresToken(t *testing.T) {
	router, _, _ := newControlAPI(t)

	w := doAuthed(t, router, "", http.MethodGet, "/v1/workflows", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doAuthed(t, router, "garbage", http.MethodGet, "/v1/workflows", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlAPI_TokenMinting(t *testing.T) {
	router, _, _ := newControlAPI(t)

	w := doAuthed(t, router, "", http.MethodPost, "/v1/auth/token",
		TokenRequest{Secret: "wrong", Subject: "op-2"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doAuthed(t, router, "", http.MethodPost, "/v1/auth/token",
		TokenRequest{Secret: "test-secret", Subject: "op-2"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])

	// The minted token opens the protected surface.
	w = doAuthed(t, router, resp["token"], http.MethodGet, "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestControlAPI_StatusAndList(t *testing.T) {
	router, registry, token := newControlAPI(t)
	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, workflows.Run{
		RunID: "r1", WorkflowID: "wf1", Name: "OrderWorkflow", Status: "running",
	}))

	w := doAuthed(t, router, token, http.MethodGet, "/v1/workflows/status?run_id=r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "OrderWorkflow")

	w = doAuthed(t, router, token, http.MethodGet, "/v1/workflows/status", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doAuthed(t, router, token, http.MethodGet, "/v1/workflows?page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "r1")

	w = doAuthed(t, router, token, http.MethodGet, "/v1/workflows/statuses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "r1")
}

func TestControlAPI_ResumeAndCancel(t *testing.T) {
	router, registry, token := newControlAPI(t)
	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, workflows.Run{
		RunID: "r1", WorkflowID: "wf1", Handle: staticHandle{},
	}))

	w := doAuthed(t, router, token, http.MethodPost, "/v1/workflows/resume",
		ControlRequest{RunID: "r1", SignalName: "resume_input", Payload: "go"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)

	// Missing runs report ok:false rather than an error.
	w = doAuthed(t, router, token, http.MethodPost, "/v1/workflows/cancel",
		ControlRequest{RunID: "nope"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":false`)

	w = doAuthed(t, router, token, http.MethodPost, "/v1/workflows/cancel",
		ControlRequest{RunID: "r1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)
}
