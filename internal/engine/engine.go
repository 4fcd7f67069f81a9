// Package engine defines the narrow interfaces this system needs from a
// durable-execution backend (Temporal in production). Workflow code, the
// relay, and the workflow registry all program against these interfaces so
// an in-memory engine can stand in for single-process execution and tests.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RuntimeMode reports where the calling code is currently executing.
type RuntimeMode int

const (
	// ModeDirect means ordinary asynchronous/activity code. Network I/O is
	// allowed and relays go straight to the gateway.
	ModeDirect RuntimeMode = iota
	// ModeSandboxed means deterministic workflow code under replay. All
	// network I/O must be routed through activities.
	ModeSandboxed
)

func (m RuntimeMode) String() string {
	if m == ModeSandboxed {
		return "sandboxed"
	}
	return "direct"
}

// WorkflowInfo identifies one workflow run.
type WorkflowInfo struct {
	WorkflowID string
	RunID      string
}

// Runtime answers the single governing dispatch question: is the caller
// inside the deterministic sandbox, and for which run?
type Runtime interface {
	// Mode reports the current execution context.
	Mode() RuntimeMode
	// Info returns the identifiers of the enclosing workflow run. The second
	// return is false outside any workflow or activity context.
	Info() (WorkflowInfo, bool)
}

// Signaler delivers a named signal to a specific workflow run.
type Signaler interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, payload any) error
}

// SignalWaiter suspends until a named signal is delivered to the given run.
//
// The wait carries no default timeout; callers bound it via ctx or rely on
// the engine's own workflow/activity timeout configuration.
type SignalWaiter interface {
	WaitForSignal(ctx context.Context, signalName, workflowID, runID string) (json.RawMessage, error)
}

// Status is the backend-reported state of a workflow run.
type Status string

const (
	StatusRunning        Status = "RUNNING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
	StatusTerminated     Status = "TERMINATED"
	StatusTimedOut       Status = "TIMED_OUT"
	StatusContinuedAsNew Status = "CONTINUED_AS_NEW"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s != "" && s != StatusRunning
}

// WorkflowDescription is the backend's authoritative view of one run.
type WorkflowDescription struct {
	WorkflowID       string
	RunID            string
	Type             string
	Status           Status
	StartTime        *time.Time
	ExecutionTime    *time.Time
	CloseTime        *time.Time
	HistoryLength    int64
	ParentWorkflowID string
	ParentRunID      string
}

// Client is the backend surface the workflow registry depends on.
type Client interface {
	Signaler
	// CancelWorkflow requests cancellation of a run.
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
	// DescribeWorkflow returns the backend's view of a run.
	DescribeWorkflow(ctx context.Context, workflowID, runID string) (WorkflowDescription, error)
	// ListWorkflows queries the backend's visibility store. pageToken is an
	// opaque continuation token from a prior call; the returned token is
	// empty when no further pages exist.
	ListWorkflows(ctx context.Context, query string, pageSize int, pageToken []byte) ([]WorkflowDescription, []byte, error)
}

// ErrSignalConsumed is returned when a signal name has already received its
// one delivery. A reply arriving for a consumed or unknown signal must never
// overwrite the first delivery.
var ErrSignalConsumed = errors.New("signal already consumed")

// ErrWorkflowNotFound is returned when a (workflow_id, run_id) pair does not
// resolve to a known run.
var ErrWorkflowNotFound = errors.New("workflow not found")
