package executors

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/buffrsign/engine/pkg/schema"
)

// StepExecutor is the pluggable unit of work for one step type. A failure
// surfaces as a returned error which the engine converts into step failure
// handling (retry per policy, then workflow failure).
type StepExecutor interface {
	Type() schema.WorkflowStepType
	// OutputSchema is the default output contract for this executor; a node
	// may override it. Nil means any output is accepted.
	OutputSchema() json.RawMessage
	Execute(ctx context.Context, input Input) (map[string]any, error)
}

// Input is the data provided to an executor at dispatch time.
type Input struct {
	WorkflowID string
	StepID     string
	Config     map[string]any
	Data       map[string]any // snapshot of accumulated workflow data
	Metadata   schema.WorkflowMetadata
}

// Registry is a thread-safe lookup of executors keyed by step type.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.WorkflowStepType]StepExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.WorkflowStepType]StepExecutor),
	}
}

// Register adds an executor. Returns an error on duplicate step type.
func (r *Registry) Register(exec StepExecutor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	t := exec.Type()
	if !schema.IsValidStepType(t) {
		return schema.NewErrorf(schema.ErrCodeValidation, "executor has unknown step type %q", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for step type %q already registered", t)
	}

	r.executors[t] = exec
	return nil
}

// Replace registers an executor, overwriting any existing one for the type.
// Intended for tests swapping in stubs.
func (r *Registry) Replace(exec StepExecutor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	r.mu.Lock()
	r.executors[exec.Type()] = exec
	r.mu.Unlock()
	return nil
}

// Get retrieves the executor for a step type.
func (r *Registry) Get(t schema.WorkflowStepType) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecutorMissing, "no executor registered for step type %q", t)
	}
	return exec, nil
}

// Types returns the registered step types, sorted.
func (r *Registry) Types() []schema.WorkflowStepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.WorkflowStepType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
