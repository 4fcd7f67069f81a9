// Package gateway implements the server side of the relay: the live-session
// registry, pending human prompts, the websocket upstream transport, and the
// gin handlers for the internal relay endpoints.
package gateway

import (
	"sync"

	"github.com/taskgate/taskgate/internal/identity"
)

// Session is one registered upstream connection for a workflow execution.
type Session struct {
	// ExecutionID is the workflow run this session serves.
	ExecutionID string
	// Upstream is the live connection to the client.
	Upstream UpstreamSession
	// Identity is the actor the execution runs on behalf of.
	Identity identity.Identity
	// LogSessionID correlates forwarded logs with the client-side session.
	LogSessionID string
}

// SessionRegistry tracks live upstream sessions per execution id in a
// concurrency-safe way. It is an explicit collaborator, never a package
// global, so gateways and tests can run several side by side.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register binds an upstream session to an execution id, replacing any
// previous binding.
func (r *SessionRegistry) Register(executionID string, upstream UpstreamSession, id identity.Identity, logSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[executionID] = &Session{
		ExecutionID:  executionID,
		Upstream:     upstream,
		Identity:     id,
		LogSessionID: logSessionID,
	}
}

// Unregister removes the binding for an execution id, but only when it still
// points at the given upstream. A reconnect that re-registered first is left
// untouched.
func (r *SessionRegistry) Unregister(executionID string, upstream UpstreamSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[executionID]
	if !ok || current.Upstream != upstream {
		return false
	}
	delete(r.sessions, executionID)
	return true
}

// Get returns the session bound to an execution id.
func (r *SessionRegistry) Get(executionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[executionID]
	return sess, ok
}

// ResolveIdentity returns the identity bound to an execution id. It has the
// shape proxy code expects from an identity resolver.
func (r *SessionRegistry) ResolveIdentity(executionID string) (identity.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[executionID]
	if !ok {
		return identity.Identity{}, false
	}
	return sess.Identity, true
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
