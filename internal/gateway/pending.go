package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskgate/taskgate/internal/wire"
)

// PendingPrompt is a human input request awaiting an answer.
type PendingPrompt struct {
	// RequestID correlates the eventual answer with this prompt.
	RequestID string
	// ExecutionID is the workflow run that asked.
	ExecutionID string
	// Prompt is the question shown to the user.
	Prompt wire.Prompt
	// Metadata carries correlation data (workflow_id, signal_name, ...).
	Metadata map[string]any
	// CreatedAt is when the prompt was registered.
	CreatedAt time.Time
}

// PendingPrompts tracks human prompts between creation and answer
// submission.
type PendingPrompts struct {
	mu      sync.Mutex
	prompts map[string]PendingPrompt
}

// NewPendingPrompts creates an empty prompt registry.
func NewPendingPrompts() *PendingPrompts {
	return &PendingPrompts{
		prompts: make(map[string]PendingPrompt),
	}
}

// Create registers a new pending prompt and returns it with a fresh
// request id.
func (p *PendingPrompts) Create(executionID string, prompt wire.Prompt, metadata map[string]any) PendingPrompt {
	if metadata == nil {
		metadata = map[string]any{}
	}
	pending := PendingPrompt{
		RequestID:   uuid.NewString(),
		ExecutionID: executionID,
		Prompt:      prompt,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts[pending.RequestID] = pending
	return pending
}

// Resolve removes and returns the prompt for a request id. Resolving an
// unknown or already-answered id returns false.
func (p *PendingPrompts) Resolve(requestID string) (PendingPrompt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, ok := p.prompts[requestID]
	if !ok {
		return PendingPrompt{}, false
	}
	delete(p.prompts, requestID)
	return pending, true
}

// List returns the pending prompts for an execution id, oldest first.
func (p *PendingPrompts) List(executionID string) []PendingPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []PendingPrompt
	for _, pending := range p.prompts {
		if pending.ExecutionID == executionID {
			out = append(out, pending)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Discard drops all pending prompts for an execution id and returns how
// many were dropped.
func (p *PendingPrompts) Discard(executionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, pending := range p.prompts {
		if pending.ExecutionID == executionID {
			delete(p.prompts, id)
			n++
		}
	}
	return n
}

// notifyDeduper remembers idempotency keys per execution id so retried
// notifies are delivered at most once.
type notifyDeduper struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func newNotifyDeduper() *notifyDeduper {
	return &notifyDeduper{
		seen: make(map[string]map[string]struct{}),
	}
}

// Seen records the key and reports whether it was already present.
func (d *notifyDeduper) Seen(executionID, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys, ok := d.seen[executionID]
	if !ok {
		keys = make(map[string]struct{})
		d.seen[executionID] = keys
	}
	if _, dup := keys[key]; dup {
		return true
	}
	keys[key] = struct{}{}
	return false
}

// Forget drops all recorded keys for an execution id.
func (d *notifyDeduper) Forget(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, executionID)
}
