// Package identity carries the authenticated actor associated with a
// workflow execution. The binding travels in the context.Context of the
// call chain, so deep relay code discovers "who is making this call"
// without a parameter threaded through every signature, and concurrent
// relays never observe each other's identity.
package identity

import "context"

// Identity is the actor an execution acts on behalf of.
type Identity struct {
	// Subject is the stable actor identifier.
	Subject string `json:"subject"`
	// Provider names the authorization server that issued the identity.
	Provider string `json:"provider,omitempty"`
	// Email is the actor's email when known.
	Email string `json:"email,omitempty"`
}

// Default is the synthetic identity used when no identity is bound to an
// execution. Falling back to it is degradation, not failure.
var Default = Identity{Subject: "taskgate-preconfigured", Provider: "preconfigured"}

type contextKey struct{}

// With returns a context carrying id. The parent context is untouched, so
// the previous binding is naturally restored when the derived context falls
// out of scope, on all exit paths including panics.
func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity carried by ctx, or Default when none is
// bound.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Default
}

// Bound reports whether ctx carries an identity.
func Bound(ctx context.Context) bool {
	_, ok := ctx.Value(contextKey{}).(Identity)
	return ok
}
