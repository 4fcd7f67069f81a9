// Package workflows tracks workflow runs and exposes resume/cancel/status
// operations over them. Two variants exist: a purely local registry for
// single-process execution and an engine-backed registry that merges the
// durable backend's authoritative view into every status.
package workflows

import (
	"context"
	"encoding/base64"
	"time"
)

// Handle is the control surface of one locally-executing run. Registrations
// may carry a nil handle, in which case resume and cancel are unavailable
// for that run.
type Handle interface {
	// Signal delivers a named signal to the run.
	Signal(ctx context.Context, signalName string, payload any) error
	// Cancel requests cancellation of the run.
	Cancel(ctx context.Context) error
}

// Run is one registered workflow run.
type Run struct {
	// RunID is the unique execution id.
	RunID string
	// WorkflowID groups runs of the same logical workflow.
	WorkflowID string
	// Name is the workflow type name.
	Name string
	// TaskID optionally links the run to a task record.
	TaskID string
	// Handle controls the run locally; may be nil.
	Handle Handle
	// Status is the locally-cached status.
	Status string
	// RegisteredAt is when the run was registered.
	RegisteredAt time.Time
}

// RunsPage is one page of a run listing.
type RunsPage struct {
	// Runs is the page content.
	Runs []map[string]any `json:"runs"`
	// NextPageToken continues the listing when non-empty.
	NextPageToken string `json:"next_page_token,omitempty"`
}

// DefaultResumeSignal is the signal name used when a resume request does not
// name one.
const DefaultResumeSignal = "resume"

// Registry tracks workflow runs.
//
// Lookups may give a run id, a workflow id, or both. When only a workflow id
// is given, the most recently registered run under that id wins. Resume and
// Cancel are best-effort: backend or handle failures are logged and reported
// as false, never raised.
type Registry interface {
	Register(ctx context.Context, run Run) error
	Unregister(ctx context.Context, runID, workflowID string)
	Get(ctx context.Context, runID, workflowID string) (Run, bool)
	Resume(ctx context.Context, runID, workflowID, signalName string, payload any) bool
	Cancel(ctx context.Context, runID, workflowID string) bool
	Status(ctx context.Context, runID, workflowID string) (map[string]any, error)
	ListStatuses(ctx context.Context) ([]map[string]any, error)
	List(ctx context.Context, query string, pageSize int, pageToken string) (RunsPage, error)
}

// statusRecord renders the registry-local view of a run.
func statusRecord(run Run) map[string]any {
	status := run.Status
	if status == "" {
		status = "unknown"
	}
	record := map[string]any{
		"id":          run.RunID,
		"run_id":      run.RunID,
		"workflow_id": run.WorkflowID,
		"name":        run.Name,
		"status":      status,
	}
	if run.TaskID != "" {
		record["task_id"] = run.TaskID
	}
	if !run.RegisteredAt.IsZero() {
		record["registered_at"] = run.RegisteredAt.UnixMilli()
	}
	return record
}

func encodePageToken(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func decodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(token)
}
