package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/pkg/logger"
)

// UpstreamSession is a live connection to the client that started a
// workflow. Relay handlers deliver server->client traffic through it.
type UpstreamSession interface {
	// SendLogMessage forwards a log record to the client.
	SendLogMessage(ctx context.Context, params wire.LogMessageParams) error
	// Notify delivers a fire-and-forget notification.
	Notify(ctx context.Context, method string, params map[string]any) error
	// Request delivers a request and blocks until the client replies.
	Request(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// Frame types exchanged on the attach websocket.
const (
	FrameNotify  = "notify"
	FrameRequest = "request"
	FrameReply   = "reply"
)

// Frame is a single websocket message on the attach connection.
type Frame struct {
	// Type is one of the Frame* constants.
	Type string `json:"type"`
	// ID correlates a request with its reply.
	ID string `json:"id,omitempty"`
	// Method is the relay method for notify/request frames.
	Method string `json:"method,omitempty"`
	// Params is the notify/request payload.
	Params map[string]any `json:"params,omitempty"`
	// Result is the reply payload.
	Result map[string]any `json:"result,omitempty"`
}

// frameWriter is the outbound half of a websocket connection.
// *websocket.Conn satisfies it; tests substitute fakes.
type frameWriter interface {
	WriteJSON(v any) error
}

// ErrSessionClosed is returned for requests interrupted by the upstream
// connection going away.
var ErrSessionClosed = errors.New("upstream session closed")

// WSSession is a websocket-backed UpstreamSession. Requests carry a fresh
// correlation id; replies arriving on the read loop are matched through
// Resolve. Writes are serialized with a dedicated mutex since gorilla
// connections allow one concurrent writer.
type WSSession struct {
	conn    frameWriter
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan map[string]any
	closed  bool
}

// NewWSSession wraps an upgraded websocket connection.
func NewWSSession(conn frameWriter) *WSSession {
	return &WSSession{
		conn:    conn,
		pending: make(map[string]chan map[string]any),
	}
}

func (s *WSSession) writeFrame(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

// SendLogMessage forwards a log record as a notifications/message notify.
func (s *WSSession) SendLogMessage(ctx context.Context, params wire.LogMessageParams) error {
	payload := map[string]any{
		"level": params.Level,
		"data":  params.Data,
	}
	if params.Logger != "" {
		payload["logger"] = params.Logger
	}
	if params.RelatedRequestID != "" {
		payload["related_request_id"] = params.RelatedRequestID
	}
	return s.Notify(ctx, wire.MethodLogMessage, payload)
}

// Notify writes a notify frame.
func (s *WSSession) Notify(_ context.Context, method string, params map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	return s.writeFrame(Frame{Type: FrameNotify, Method: method, Params: params})
}

// Request writes a request frame and blocks until the matching reply frame
// arrives, the context is done, or the session closes.
func (s *WSSession) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	id := uuid.NewString()
	ch := make(chan map[string]any, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.writeFrame(Frame{Type: FrameRequest, ID: id, Method: method, Params: params}); err != nil {
		s.discard(id)
		return nil, err
	}

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return result, nil
	case <-ctx.Done():
		s.discard(id)
		return nil, ctx.Err()
	}
}

// Resolve delivers a reply to the pending request with the given
// correlation id. Unknown or already-resolved ids are a logged no-op.
func (s *WSSession) Resolve(id string, result map[string]any) bool {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		logger.Debugf("dropping reply for unknown correlation id %s", id)
		return false
	}
	ch <- result
	return true
}

// Close marks the session closed and wakes every pending request with
// ErrSessionClosed.
func (s *WSSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// PendingCount returns the number of in-flight requests.
func (s *WSSession) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *WSSession) discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}
