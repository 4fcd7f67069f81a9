package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/taskgate/taskgate/pkg/logger"
)

// InMemoryEngine is a single-process stand-in for a durable-execution
// backend. It provides named-signal delivery with at-most-once consumption
// per signal name, run bookkeeping, and visibility listing. It implements
// Client, Signaler and SignalWaiter.
//
// Nothing here survives a process restart; that mirrors the production
// contract only insofar as tests and the demo worker need it.
type InMemoryEngine struct {
	mu      sync.Mutex
	runs    map[string]*runState   // run_id -> state
	signals map[string]*signalSlot // run_id + "\x00" + signal_name
}

type runState struct {
	desc WorkflowDescription
}

type signalSlot struct {
	ch        chan json.RawMessage // buffered, size 1
	delivered bool
}

// NewInMemoryEngine creates an empty in-memory engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{
		runs:    make(map[string]*runState),
		signals: make(map[string]*signalSlot),
	}
}

func signalKey(runID, signalName string) string {
	return runID + "\x00" + signalName
}

// StartRun records a new RUNNING workflow run.
func (e *InMemoryEngine) StartRun(workflowID, runID, workflowType string) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[runID] = &runState{
		desc: WorkflowDescription{
			WorkflowID: workflowID,
			RunID:      runID,
			Type:       workflowType,
			Status:     StatusRunning,
			StartTime:  &now,
		},
	}
}

// CompleteRun moves a run to a terminal status.
func (e *InMemoryEngine) CompleteRun(runID string, status Status) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[runID]; ok {
		run.desc.Status = status
		run.desc.CloseTime = &now
	}
}

// SignalWorkflow delivers a named signal to a run. Delivery to a signal name
// that has already been consumed is a no-op returning ErrSignalConsumed; the
// original payload is never overwritten.
func (e *InMemoryEngine) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.runs[runID]; !ok {
		return fmt.Errorf("signal %s for run %s: %w", signalName, runID, ErrWorkflowNotFound)
	}

	key := signalKey(runID, signalName)
	slot, ok := e.signals[key]
	if !ok {
		slot = &signalSlot{ch: make(chan json.RawMessage, 1)}
		e.signals[key] = slot
	}
	if slot.delivered {
		logger.Debugf("dropping duplicate delivery for signal %q on run %s", signalName, runID)
		return ErrSignalConsumed
	}
	slot.delivered = true
	slot.ch <- raw
	return nil
}

// WaitForSignal blocks until the named signal is delivered to the run or ctx
// is done. Each signal name is consumed at most once; the slot is discarded
// after consumption.
func (e *InMemoryEngine) WaitForSignal(ctx context.Context, signalName, workflowID, runID string) (json.RawMessage, error) {
	key := signalKey(runID, signalName)

	e.mu.Lock()
	slot, ok := e.signals[key]
	if !ok {
		slot = &signalSlot{ch: make(chan json.RawMessage, 1)}
		e.signals[key] = slot
	}
	e.mu.Unlock()

	select {
	case raw := <-slot.ch:
		e.mu.Lock()
		delete(e.signals, key)
		e.mu.Unlock()
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelWorkflow marks a run cancelled.
func (e *InMemoryEngine) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return fmt.Errorf("cancel run %s: %w", runID, ErrWorkflowNotFound)
	}
	run.desc.Status = StatusCancelled
	run.desc.CloseTime = &now
	return nil
}

// DescribeWorkflow returns the recorded description of a run.
func (e *InMemoryEngine) DescribeWorkflow(ctx context.Context, workflowID, runID string) (WorkflowDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return WorkflowDescription{}, fmt.Errorf("describe run %s: %w", runID, ErrWorkflowNotFound)
	}
	return run.desc, nil
}

// ListWorkflows lists runs newest-first. The continuation token is a decimal
// offset into the sorted listing.
func (e *InMemoryEngine) ListWorkflows(ctx context.Context, query string, pageSize int, pageToken []byte) ([]WorkflowDescription, []byte, error) {
	e.mu.Lock()
	descs := make([]WorkflowDescription, 0, len(e.runs))
	for _, run := range e.runs {
		descs = append(descs, run.desc)
	}
	e.mu.Unlock()

	sort.Slice(descs, func(i, j int) bool {
		ti, tj := descs[i].StartTime, descs[j].StartTime
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})

	offset := 0
	if len(pageToken) > 0 {
		n, err := strconv.Atoi(string(pageToken))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid page token: %w", err)
		}
		offset = n
	}
	if offset >= len(descs) {
		return nil, nil, nil
	}
	if pageSize <= 0 {
		pageSize = len(descs) - offset
	}
	end := offset + pageSize
	if end > len(descs) {
		end = len(descs)
	}
	page := descs[offset:end]
	var next []byte
	if end < len(descs) {
		next = []byte(strconv.Itoa(end))
	}
	return page, next, nil
}
