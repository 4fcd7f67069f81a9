package workflows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskgate/taskgate/pkg/logger"
)

// InMemoryRegistry is the single-process registry variant. All state lives
// in process memory; resume and cancel act through the run's local handle.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	byRun  map[string]Run
	byWork map[string][]string // workflow_id -> run ids, registration order
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byRun:  make(map[string]Run),
		byWork: make(map[string][]string),
	}
}

// Register records a run. Registering the same run id again replaces the
// previous record.
func (r *InMemoryRegistry) Register(_ context.Context, run Run) error {
	if run.RunID == "" {
		return fmt.Errorf("register workflow: run id is required")
	}
	if run.RegisteredAt.IsZero() {
		run.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRun[run.RunID]; !exists && run.WorkflowID != "" {
		r.byWork[run.WorkflowID] = append(r.byWork[run.WorkflowID], run.RunID)
	}
	r.byRun[run.RunID] = run
	return nil
}

// Unregister drops a run record.
func (r *InMemoryRegistry) Unregister(_ context.Context, runID, workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.byRun[runID]
	if !ok {
		return
	}
	delete(r.byRun, runID)

	wfID := run.WorkflowID
	if wfID == "" {
		wfID = workflowID
	}
	runs := r.byWork[wfID]
	for i, id := range runs {
		if id == runID {
			r.byWork[wfID] = append(runs[:i], runs[i+1:]...)
			break
		}
	}
	if len(r.byWork[wfID]) == 0 {
		delete(r.byWork, wfID)
	}
}

// Get resolves a run by run id, or by workflow id where the most recently
// registered run wins.
func (r *InMemoryRegistry) Get(_ context.Context, runID, workflowID string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(runID, workflowID)
}

func (r *InMemoryRegistry) resolveLocked(runID, workflowID string) (Run, bool) {
	if runID != "" {
		run, ok := r.byRun[runID]
		return run, ok
	}
	if workflowID != "" {
		runs := r.byWork[workflowID]
		if len(runs) > 0 {
			run, ok := r.byRun[runs[len(runs)-1]]
			return run, ok
		}
	}
	return Run{}, false
}

// Resume signals a run to continue. Missing runs, nil handles and signal
// failures are logged and reported as false.
func (r *InMemoryRegistry) Resume(ctx context.Context, runID, workflowID, signalName string, payload any) bool {
	run, ok := r.Get(ctx, runID, workflowID)
	if !ok {
		logger.Warnf("resume: no run registered for run_id=%q workflow_id=%q", runID, workflowID)
		return false
	}
	if run.Handle == nil {
		logger.Warnf("resume: run %s has no local handle", run.RunID)
		return false
	}
	if signalName == "" {
		signalName = DefaultResumeSignal
	}
	if err := run.Handle.Signal(ctx, signalName, payload); err != nil {
		logger.Warnf("resume: signal %s to run %s failed: %v", signalName, run.RunID, err)
		return false
	}
	return true
}

// Cancel cancels a run. Missing runs, nil handles and cancel failures are
// logged and reported as false.
func (r *InMemoryRegistry) Cancel(ctx context.Context, runID, workflowID string) bool {
	run, ok := r.Get(ctx, runID, workflowID)
	if !ok {
		logger.Warnf("cancel: no run registered for run_id=%q workflow_id=%q", runID, workflowID)
		return false
	}
	if run.Handle == nil {
		logger.Warnf("cancel: run %s has no local handle", run.RunID)
		return false
	}
	if err := run.Handle.Cancel(ctx); err != nil {
		logger.Warnf("cancel: run %s failed: %v", run.RunID, err)
		return false
	}
	return true
}

// SetStatus updates the cached status of a run.
func (r *InMemoryRegistry) SetStatus(runID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.byRun[runID]; ok {
		run.Status = status
		r.byRun[runID] = run
	}
}

// Status returns the local status record of a run.
func (r *InMemoryRegistry) Status(_ context.Context, runID, workflowID string) (map[string]any, error) {
	if runID == "" && workflowID == "" {
		return nil, fmt.Errorf("workflow status: a run id or workflow id is required")
	}

	r.mu.RLock()
	run, ok := r.resolveLocked(runID, workflowID)
	r.mu.RUnlock()
	if !ok {
		return map[string]any{
			"id":          runID,
			"run_id":      runID,
			"workflow_id": workflowID,
			"status":      "unknown",
		}, nil
	}
	return statusRecord(run), nil
}

// ListStatuses returns the status records of every registered run, newest
// registration first.
func (r *InMemoryRegistry) ListStatuses(_ context.Context) ([]map[string]any, error) {
	runs := r.snapshot()
	out := make([]map[string]any, len(runs))
	for i, run := range runs {
		out[i] = statusRecord(run)
	}
	return out, nil
}

// List pages through registered runs, newest registration first. The token
// is a base64 offset.
func (r *InMemoryRegistry) List(_ context.Context, _ string, pageSize int, pageToken string) (RunsPage, error) {
	runs := r.snapshot()
	return pageLocalRuns(runs, pageSize, pageToken)
}

func (r *InMemoryRegistry) snapshot() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]Run, 0, len(r.byRun))
	for _, run := range r.byRun {
		runs = append(runs, run)
	}
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].RegisteredAt.After(runs[j-1].RegisteredAt); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
	return runs
}

func pageLocalRuns(runs []Run, pageSize int, pageToken string) (RunsPage, error) {
	raw, err := decodePageToken(pageToken)
	if err != nil {
		return RunsPage{}, fmt.Errorf("invalid page token: %w", err)
	}
	offset := 0
	if len(raw) > 0 {
		if _, err := fmt.Sscanf(string(raw), "%d", &offset); err != nil {
			return RunsPage{}, fmt.Errorf("invalid page token: %w", err)
		}
	}
	if offset >= len(runs) {
		return RunsPage{Runs: []map[string]any{}}, nil
	}
	if pageSize <= 0 {
		pageSize = len(runs) - offset
	}
	end := offset + pageSize
	if end > len(runs) {
		end = len(runs)
	}

	page := RunsPage{Runs: make([]map[string]any, 0, end-offset)}
	for _, run := range runs[offset:end] {
		page.Runs = append(page.Runs, statusRecord(run))
	}
	if end < len(runs) {
		page.NextPageToken = encodePageToken([]byte(fmt.Sprintf("%d", end)))
	}
	return page, nil
}
