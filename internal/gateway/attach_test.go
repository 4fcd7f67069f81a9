package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/taskgate/taskgate/internal/wire"
)

// attachClient is a test upstream client connected through the attach
// endpoint.
type attachClient struct {
	conn *websocket.Conn
}

func dialAttach(t *testing.T, srv *httptest.Server, executionID, query string) *attachClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/internal/session/by-run/" + executionID + "/attach"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &attachClient{conn: conn}
}

func (c *attachClient) readFrame(t *testing.T) Frame {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, c.conn.ReadJSON(&frame))
	return frame
}

func (c *attachClient) reply(t *testing.T, id string, result map[string]any) {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(Frame{Type: FrameReply, ID: id, Result: result}))
}

func TestAttach_NotifyRoundTrip(t *testing.T) {
	g := newTestGateway("")
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	client := dialAttach(t, srv, "exec1", "subject=user-7&session_id=sess-1")

	require.Eventually(t, func() bool { return g.registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	id, ok := g.registry.ResolveIdentity("exec1")
	require.True(t, ok)
	require.Equal(t, "user-7", id.Subject)

	body, _ := json.Marshal(wire.NotifyEnvelope{
		Method: wire.MethodProgress,
		Params: map[string]any{"progress": 0.25},
	})
	resp, err := http.Post(srv.URL+"/internal/session/by-run/exec1/notify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := client.readFrame(t)
	require.Equal(t, FrameNotify, frame.Type)
	require.Equal(t, wire.MethodProgress, frame.Method)
	require.Equal(t, 0.25, frame.Params["progress"])
}

func TestAttach_RequestReplyRoundTrip(t *testing.T) {
	g := newTestGateway("")
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	client := dialAttach(t, srv, "exec1", "")
	require.Eventually(t, func() bool { return g.registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The client answers requests as they arrive.
	go func() {
		frame := client.readFrame(t)
		if frame.Type == FrameRequest {
			client.reply(t, frame.ID, map[string]any{
				"action":  "accept",
				"content": map[string]any{"confirmed": true},
			})
		}
	}()

	body, _ := json.Marshal(wire.RequestEnvelope{
		Method: wire.MethodElicit,
		Params: map[string]any{"message": "Proceed?"},
	})
	resp, err := http.Post(srv.URL+"/internal/session/by-run/exec1/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "accept", result["action"])
}

func TestAttach_DisconnectUnregistersSession(t *testing.T) {
	g := newTestGateway("")
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	client := dialAttach(t, srv, "exec1", "")
	require.Eventually(t, func() bool { return g.registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.conn.Close())
	require.Eventually(t, func() bool { return g.registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Relays after the disconnect fail cleanly.
	body, _ := json.Marshal(wire.NotifyEnvelope{Method: wire.MethodProgress})
	resp, err := http.Post(srv.URL+"/internal/session/by-run/exec1/notify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAttach_TokenGuarded(t *testing.T) {
	g := newTestGateway("s3cret")
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/session/by-run/exec1/attach"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set(wire.GatewayTokenHeader, "s3cret")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
