package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/pkg/logger"
)

// TemporalRegistry is the registry variant backed by a durable-execution
// engine. Local registrations are a cache; the backend stays authoritative
// and its view is merged into every status under the "temporal" sub-field.
type TemporalRegistry struct {
	client engine.Client
	local  *InMemoryRegistry
}

// NewTemporalRegistry creates a registry over the given backend client.
func NewTemporalRegistry(client engine.Client) *TemporalRegistry {
	return &TemporalRegistry{
		client: client,
		local:  NewInMemoryRegistry(),
	}
}

// Register records a run in the local cache.
func (t *TemporalRegistry) Register(ctx context.Context, run Run) error {
	return t.local.Register(ctx, run)
}

// Unregister drops a run from the local cache. The backend keeps its own
// history regardless.
func (t *TemporalRegistry) Unregister(ctx context.Context, runID, workflowID string) {
	t.local.Unregister(ctx, runID, workflowID)
}

// Get resolves a cached run record.
func (t *TemporalRegistry) Get(ctx context.Context, runID, workflowID string) (Run, bool) {
	return t.local.Get(ctx, runID, workflowID)
}

// resolveIDs turns a partial (run id, workflow id) pair into the pair to
// hand the backend. With only a workflow id, the latest locally-registered
// run wins; an empty run id is passed through when nothing is cached, which
// the backend resolves to the current run.
func (t *TemporalRegistry) resolveIDs(ctx context.Context, runID, workflowID string) (string, string, error) {
	if runID == "" && workflowID == "" {
		return "", "", fmt.Errorf("workflow lookup: a run id or workflow id is required")
	}
	if runID != "" {
		if workflowID == "" {
			if run, ok := t.local.Get(ctx, runID, ""); ok {
				workflowID = run.WorkflowID
			}
		}
		return workflowID, runID, nil
	}
	if run, ok := t.local.Get(ctx, "", workflowID); ok {
		return workflowID, run.RunID, nil
	}
	return workflowID, "", nil
}

// Resume signals a run to continue. Backend failures are logged and
// reported as false.
func (t *TemporalRegistry) Resume(ctx context.Context, runID, workflowID, signalName string, payload any) bool {
	wfID, rID, err := t.resolveIDs(ctx, runID, workflowID)
	if err != nil {
		logger.Warnf("resume: %v", err)
		return false
	}
	if signalName == "" {
		signalName = DefaultResumeSignal
	}
	if err := t.client.SignalWorkflow(ctx, wfID, rID, signalName, payload); err != nil {
		logger.Warnf("resume: signal %s to workflow %s run %s failed: %v", signalName, wfID, rID, err)
		return false
	}
	return true
}

// Cancel requests cancellation of a run. Backend failures are logged and
// reported as false.
func (t *TemporalRegistry) Cancel(ctx context.Context, runID, workflowID string) bool {
	wfID, rID, err := t.resolveIDs(ctx, runID, workflowID)
	if err != nil {
		logger.Warnf("cancel: %v", err)
		return false
	}
	if err := t.client.CancelWorkflow(ctx, wfID, rID); err != nil {
		logger.Warnf("cancel: workflow %s run %s failed: %v", wfID, rID, err)
		return false
	}
	return true
}

// Status returns the local record of a run with the backend's authoritative
// view merged under "temporal". A describe failure tags the record status
// ERROR instead of failing the call.
func (t *TemporalRegistry) Status(ctx context.Context, runID, workflowID string) (map[string]any, error) {
	wfID, rID, err := t.resolveIDs(ctx, runID, workflowID)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if run, ok := t.local.Get(ctx, rID, wfID); ok {
		record = statusRecord(run)
	} else {
		// Untracked run (registered by another process, or evicted).
		record = map[string]any{
			"id":          rID,
			"run_id":      rID,
			"workflow_id": wfID,
			"status":      "unknown",
		}
	}

	desc, err := t.client.DescribeWorkflow(ctx, wfID, rID)
	if err != nil {
		logger.Warnf("status: describe workflow %s run %s failed: %v", wfID, rID, err)
		record["status"] = "ERROR"
		record["error"] = err.Error()
		return record, nil
	}

	record["temporal"] = descriptionRecord(desc)
	record["status"] = string(desc.Status)
	return record, nil
}

// ListStatuses returns the merged status of every locally-registered run.
func (t *TemporalRegistry) ListStatuses(ctx context.Context) ([]map[string]any, error) {
	runs := t.local.snapshot()
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		record, err := t.Status(ctx, run.RunID, run.WorkflowID)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// List pages through the backend's visibility store. When the backend is
// unreachable the listing degrades to the local cache.
func (t *TemporalRegistry) List(ctx context.Context, query string, pageSize int, pageToken string) (RunsPage, error) {
	raw, err := decodePageToken(pageToken)
	if err != nil {
		return RunsPage{}, fmt.Errorf("invalid page token: %w", err)
	}

	descs, next, err := t.client.ListWorkflows(ctx, query, pageSize, raw)
	if err != nil {
		logger.Warnf("list: backend query failed, serving local cache: %v", err)
		return t.local.List(ctx, query, pageSize, "")
	}

	page := RunsPage{Runs: make([]map[string]any, 0, len(descs))}
	for _, desc := range descs {
		page.Runs = append(page.Runs, descriptionRecord(desc))
	}
	page.NextPageToken = encodePageToken(next)
	return page, nil
}

func descriptionRecord(desc engine.WorkflowDescription) map[string]any {
	record := map[string]any{
		"workflow_id": desc.WorkflowID,
		"run_id":      desc.RunID,
		"status":      string(desc.Status),
	}
	if desc.Type != "" {
		record["type"] = desc.Type
	}
	if desc.StartTime != nil {
		record["start_time"] = desc.StartTime.Format(time.RFC3339Nano)
	}
	if desc.ExecutionTime != nil {
		record["execution_time"] = desc.ExecutionTime.Format(time.RFC3339Nano)
	}
	if desc.CloseTime != nil {
		record["close_time"] = desc.CloseTime.Format(time.RFC3339Nano)
	}
	if desc.HistoryLength > 0 {
		record["history_length"] = desc.HistoryLength
	}
	if desc.ParentWorkflowID != "" {
		record["parent_workflow_id"] = desc.ParentWorkflowID
		record["parent_run_id"] = desc.ParentRunID
	}
	return record
}
