package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/buffrsign/engine/internal/events"
	"github.com/buffrsign/engine/internal/executors"
	"github.com/buffrsign/engine/internal/expressions"
	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/internal/validation"
	"github.com/buffrsign/engine/pkg/schema"
)

// SyntheticStartStepID names the history record appended when a workflow
// starts, before any real step runs.
const SyntheticStartStepID = "workflow_start"

// Engine is the in-memory workflow orchestrator. It owns workflow state
// exclusively: all mutation goes through its methods, serialized by a
// single mutex. Step executors and backoff sleeps run outside the lock so
// pause and cancel can land at step boundaries.
type Engine struct {
	store     store.Store
	registry  *executors.Registry
	bus       *events.Bus
	validator *validation.OutputValidator
	guards    map[string]expressions.Engine
	clock     Clock
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*workflowRun
}

// workflowRun tracks one in-flight execution loop.
type workflowRun struct {
	workflowID string
	cancel     context.CancelFunc
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithClock overrides the engine clock (tests inject a fake to skip
// backoff sleeps).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGuardEngine registers an expression engine for node guards under its
// name. The default set is cel and expr.
func WithGuardEngine(eng expressions.Engine) Option {
	return func(e *Engine) { e.guards[eng.Name()] = eng }
}

// New creates an Engine backed by the given store and executor registry.
func New(st store.Store, registry *executors.Registry, opts ...Option) *Engine {
	logger := slog.Default()
	e := &Engine{
		store:     st,
		registry:  registry,
		validator: validation.NewOutputValidator(),
		guards:    make(map[string]expressions.Engine),
		clock:     NewClock(),
		logger:    logger,
		running:   make(map[string]*workflowRun),
	}

	// Guard engines are optional conveniences; a failed construction just
	// leaves guards of that dialect rejected at evaluation time.
	if cel, err := expressions.NewCELEngine(); err == nil {
		e.guards[cel.Name()] = cel
	}
	expr := expressions.NewExprEngine()
	e.guards[expr.Name()] = expr

	for _, opt := range opts {
		opt(e)
	}
	e.bus = events.NewBus(e.logger)
	return e
}

// AddEventListener registers a listener for a lifecycle event name.
func (e *Engine) AddEventListener(eventType string, fn events.Listener) events.Subscription {
	return e.bus.AddEventListener(eventType, fn)
}

// RemoveEventListener drops a previously registered listener.
func (e *Engine) RemoveEventListener(eventType string, sub events.Subscription) {
	e.bus.RemoveEventListener(eventType, sub)
}

// NewWorkflowID produces a unique, sortable workflow identifier.
func (e *Engine) NewWorkflowID() string {
	return fmt.Sprintf("workflow_%d_%s", e.clock.Now().UnixMilli(), uuid.NewString()[:8])
}

// Create validates and registers a workflow. On success the workflow is in
// status initialized with one registered node per step; on validation
// failure nothing is registered.
func (e *Engine) Create(ctx context.Context, name string, steps []schema.StepDescriptor, metadata *schema.WorkflowMetadata) (string, error) {
	if result := validation.ValidateCreation(name, steps); !result.Valid() {
		return "", result.ToError()
	}

	meta := schema.WorkflowMetadata{}
	if metadata != nil {
		meta = *metadata
	}
	applyMetadataDefaults(&meta)

	now := e.clock.Now()
	state := &schema.WorkflowState{
		ID:          e.NewWorkflowID(),
		Name:        name,
		Status:      schema.WorkflowStatusInitialized,
		CurrentStep: steps[0].ID,
		StepOrder:   make([]string, 0, len(steps)),
		Data:        make(map[string]any),
		History:     []*schema.WorkflowStep{},
		Errors:      []*schema.WorkflowError{},
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, step := range steps {
		node := nodeFromDescriptor(step)
		if err := e.store.PutNode(ctx, node); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeStore, "register node %s: %s", step.ID, err.Error()).WithCause(err)
		}
		state.StepOrder = append(state.StepOrder, step.ID)
	}

	if err := e.store.PutWorkflow(ctx, state); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "persist workflow: %s", err.Error()).WithCause(err)
	}

	e.emit(ctx, schema.Event{
		Type:       schema.EventWorkflowCreated,
		WorkflowID: state.ID,
		Payload:    map[string]any{"name": name, "steps": len(steps)},
	})

	e.logger.InfoContext(ctx, "workflow created",
		"workflow_id", state.ID, "name", name, "steps", len(steps))
	return state.ID, nil
}

func nodeFromDescriptor(step schema.StepDescriptor) *schema.WorkflowNode {
	retry := schema.DefaultRetryPolicy()
	if step.Retry != nil {
		retry = *step.Retry
	}
	return &schema.WorkflowNode{
		StepID:       step.ID,
		Type:         step.Type,
		Name:         step.Name,
		Config:       step.Config,
		Conditions:   step.Conditions,
		Guard:        step.Guard,
		GuardEngine:  step.GuardEngine,
		Retry:        retry,
		OutputSchema: step.OutputSchema,
		Timeout:      step.Timeout,
	}
}

func applyMetadataDefaults(meta *schema.WorkflowMetadata) {
	if meta.Priority == "" {
		meta.Priority = schema.PriorityMedium
	}
	if len(meta.RequiredAIModels) == 0 {
		meta.RequiredAIModels = []string{"document-analyzer", "field-extractor"}
	}
	if len(meta.ComplianceRequirements) == 0 {
		meta.ComplianceRequirements = []string{"eta_2019"}
	}
}

// Start transitions an initialized workflow to running and records the
// synthetic start entry. It does not execute steps; see Execute and Run.
func (e *Engine) Start(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		return err
	}
	if state.Status != schema.WorkflowStatusInitialized {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"cannot start workflow in status %s", state.Status)
	}

	now := e.clock.Now()
	completed := now
	state.Status = schema.WorkflowStatusRunning
	state.History = append(state.History, &schema.WorkflowStep{
		ID:          SyntheticStartStepID,
		Name:        "Workflow started",
		Status:      schema.StepStatusCompleted,
		StartedAt:   now,
		CompletedAt: &completed,
	})
	if err := e.persistLocked(ctx, state); err != nil {
		return err
	}

	e.emit(ctx, schema.Event{Type: schema.EventWorkflowStarted, WorkflowID: workflowID})
	e.logger.InfoContext(ctx, "workflow started", "workflow_id", workflowID)
	return nil
}

// Run starts the workflow and drives the execution loop to a terminal or
// paused state.
func (e *Engine) Run(ctx context.Context, workflowID string) error {
	if err := e.Start(ctx, workflowID); err != nil {
		return err
	}
	return e.Execute(ctx, workflowID)
}

// Pause requests a pause. Takes effect at the next step boundary; the
// in-flight step attempt finishes normally.
func (e *Engine) Pause(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		return err
	}
	if state.Status != schema.WorkflowStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"cannot pause workflow in status %s", state.Status)
	}

	state.Status = schema.WorkflowStatusPaused
	if err := e.persistLocked(ctx, state); err != nil {
		return err
	}

	e.emit(ctx, schema.Event{Type: schema.EventWorkflowPaused, WorkflowID: workflowID})
	e.logger.InfoContext(ctx, "workflow paused", "workflow_id", workflowID)
	return nil
}

// Resume transitions a paused workflow back to running and continues the
// execution loop synchronously from the first unfinished step.
func (e *Engine) Resume(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if state.Status != schema.WorkflowStatusPaused {
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"cannot resume workflow in status %s", state.Status)
	}

	state.Status = schema.WorkflowStatusRunning
	if err := e.persistLocked(ctx, state); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(ctx, schema.Event{Type: schema.EventWorkflowResumed, WorkflowID: workflowID})
	e.logger.InfoContext(ctx, "workflow resumed", "workflow_id", workflowID)

	return e.Execute(ctx, workflowID)
}

// Cancel marks a workflow cancelled. Allowed from any non-terminal status;
// cancelling a terminal workflow is an invalid-state error. Cooperative: an
// in-flight step attempt finishes, but no further step is dispatched and
// any backoff wait is interrupted.
func (e *Engine) Cancel(ctx context.Context, workflowID string) error {
	e.mu.Lock()

	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	from := state.Status
	if !CanTransitionWorkflow(from, schema.WorkflowStatusCancelled) {
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"cannot cancel workflow in status %s", from)
	}

	state.Status = schema.WorkflowStatusCancelled
	if err := e.persistLocked(ctx, state); err != nil {
		e.mu.Unlock()
		return err
	}

	// Interrupt a backoff sleep if this workflow is mid-execution.
	if run, ok := e.running[workflowID]; ok {
		run.cancel()
	}
	e.mu.Unlock()

	e.emit(ctx, schema.Event{Type: workflowEventType(from, schema.WorkflowStatusCancelled), WorkflowID: workflowID})
	e.logger.InfoContext(ctx, "workflow cancelled", "workflow_id", workflowID)
	return nil
}

// Execute drives the execution loop: steps run sequentially in registration
// order while the workflow stays running. Returns nil when the workflow
// completes, pauses, or is cancelled; returns the step error when the
// workflow fails.
func (e *Engine) Execute(ctx context.Context, workflowID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if _, exists := e.running[workflowID]; exists {
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"workflow %s is already executing", workflowID)
	}
	e.running[workflowID] = &workflowRun{workflowID: workflowID, cancel: cancel}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, workflowID)
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		state, err := e.loadLocked(ctx, workflowID)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		if state.Status != schema.WorkflowStatusRunning {
			// Paused or cancelled between steps; stop dispatching.
			e.mu.Unlock()
			return nil
		}

		stepID, node, err := e.nextStepLocked(ctx, state)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		if stepID == "" {
			// No steps remain.
			state.Status = schema.WorkflowStatusCompleted
			state.CurrentStep = ""
			if perr := e.persistLocked(ctx, state); perr != nil {
				e.mu.Unlock()
				return perr
			}
			e.mu.Unlock()
			e.emit(ctx, schema.Event{Type: schema.EventWorkflowCompleted, WorkflowID: workflowID})
			e.logger.InfoContext(ctx, "workflow completed", "workflow_id", workflowID)
			return nil
		}

		state.CurrentStep = stepID
		if perr := e.persistLocked(ctx, state); perr != nil {
			e.mu.Unlock()
			return perr
		}
		e.mu.Unlock()

		if stepErr := e.executeStep(runCtx, workflowID, node); stepErr != nil {
			return e.failWorkflow(ctx, workflowID, node.StepID, stepErr)
		}
	}
}

// nextStepLocked finds the first step in registration order without a
// terminal history record. Caller holds e.mu.
func (e *Engine) nextStepLocked(ctx context.Context, state *schema.WorkflowState) (string, *schema.WorkflowNode, error) {
	done := make(map[string]bool, len(state.History))
	for _, rec := range state.History {
		switch rec.Status {
		case schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped:
			done[rec.ID] = true
		}
	}
	for _, stepID := range state.StepOrder {
		if done[stepID] {
			continue
		}
		node, err := e.store.GetNode(ctx, stepID)
		if err != nil {
			return "", nil, schema.NewErrorf(schema.ErrCodeStore, "load node %s: %s", stepID, err.Error()).WithCause(err)
		}
		if node == nil {
			return "", nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %s not registered", stepID).WithStep(stepID)
		}
		return stepID, node, nil
	}
	return "", nil, nil
}

// executeStep runs a single step, including skip evaluation and the local
// retry loop. Returns an error only when the step terminally fails.
func (e *Engine) executeStep(ctx context.Context, workflowID string, node *schema.WorkflowNode) error {
	e.mu.Lock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	started := e.clock.Now()
	record := &schema.WorkflowStep{
		ID:         node.StepID,
		Name:       node.Name,
		Type:       node.Type,
		Status:     schema.StepStatusPending,
		Input:      copyData(state.Data),
		StartedAt:  started,
		MaxRetries: node.Retry.MaxRetries,
	}
	state.History = append(state.History, record)

	// Skip checks: declarative conditions first, then the optional guard
	// expression.
	execute := EvaluateConditions(node.Conditions, state.Data)
	var guardErr error
	if execute && node.Guard != "" {
		execute, guardErr = e.evalGuard(ctx, node, state.Data)
	}

	if guardErr == nil && !execute {
		e.finishRecord(record, schema.StepStatusSkipped, nil)
		if perr := e.persistLocked(ctx, state); perr != nil {
			e.mu.Unlock()
			return perr
		}
		e.mu.Unlock()
		e.emit(ctx, schema.Event{Type: schema.EventStepSkipped, WorkflowID: workflowID, StepID: node.StepID})
		e.logger.DebugContext(ctx, "step skipped", "workflow_id", workflowID, "step_id", node.StepID)
		return nil
	}

	record.Status = schema.StepStatusRunning
	if perr := e.persistLocked(ctx, state); perr != nil {
		e.mu.Unlock()
		return perr
	}
	dataSnapshot := copyData(state.Data)
	meta := state.Metadata
	e.mu.Unlock()

	e.emit(ctx, schema.Event{Type: schema.EventStepStarted, WorkflowID: workflowID, StepID: node.StepID})

	// Retry loop: the same history record is reused, retryCount increments.
	for {
		var output map[string]any
		attemptErr := guardErr
		if attemptErr == nil {
			output, attemptErr = e.runAttempt(ctx, workflowID, node, dataSnapshot, meta)
		}

		if attemptErr == nil {
			return e.completeStep(ctx, workflowID, node, record, output)
		}

		e.recordStepFailure(ctx, workflowID, node, record, attemptErr)

		if guardErr != nil || !IsRetryable(node.Retry, attemptErr) || record.RetryCount >= node.Retry.MaxRetries {
			return attemptErr
		}

		e.mu.Lock()
		record.RetryCount++
		record.Status = schema.StepStatusPending
		attempt := record.RetryCount
		if state, err := e.loadLocked(ctx, workflowID); err == nil {
			syncRecordLocked(state, record)
			_ = e.persistLocked(ctx, state)
		}
		e.mu.Unlock()

		e.emit(ctx, schema.Event{
			Type:       schema.EventStepRetry,
			WorkflowID: workflowID,
			StepID:     node.StepID,
			Payload: map[string]any{
				"attempt":     attempt,
				"max_retries": node.Retry.MaxRetries,
				"error":       attemptErr.Error(),
			},
		})
		e.logger.WarnContext(ctx, "step retry",
			"workflow_id", workflowID, "step_id", node.StepID,
			"attempt", attempt, "max_retries", node.Retry.MaxRetries)

		delay := ComputeBackoff(node.Retry, record.RetryCount-1)
		if err := e.clock.Sleep(ctx, delay); err != nil {
			// Cancelled mid-backoff. The cancel path already set the
			// workflow status; report the attempt error without retrying.
			return attemptErr
		}

		// Re-check status: pause/cancel may have landed during backoff.
		e.mu.Lock()
		state, err := e.loadLocked(ctx, workflowID)
		if err != nil || state.Status != schema.WorkflowStatusRunning {
			e.mu.Unlock()
			return attemptErr
		}
		record.Status = schema.StepStatusRunning
		syncRecordLocked(state, record)
		dataSnapshot = copyData(state.Data)
		_ = e.persistLocked(ctx, state)
		e.mu.Unlock()
	}
}

// runAttempt performs one executor invocation plus output validation.
func (e *Engine) runAttempt(ctx context.Context, workflowID string, node *schema.WorkflowNode, data map[string]any, meta schema.WorkflowMetadata) (map[string]any, error) {
	exec, err := e.registry.Get(node.Type)
	if err != nil {
		return nil, err
	}

	output, err := exec.Execute(ctx, executors.Input{
		WorkflowID: workflowID,
		StepID:     node.StepID,
		Config:     node.Config,
		Data:       data,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}

	outputSchema := node.OutputSchema
	if len(outputSchema) == 0 {
		outputSchema = exec.OutputSchema()
	}
	if err := e.validator.Validate(output, outputSchema); err != nil {
		return nil, err
	}
	return output, nil
}

// completeStep finalizes a successful step: merge output into workflow data
// (last write wins per key) and emit step:completed.
func (e *Engine) completeStep(ctx context.Context, workflowID string, node *schema.WorkflowNode, record *schema.WorkflowStep, output map[string]any) error {
	e.mu.Lock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	record.Output = output
	e.finishRecord(record, schema.StepStatusCompleted, output)
	syncRecordLocked(state, record)
	for k, v := range output {
		state.Data[k] = v
	}
	if perr := e.persistLocked(ctx, state); perr != nil {
		e.mu.Unlock()
		return perr
	}
	e.mu.Unlock()

	e.emit(ctx, schema.Event{
		Type:       schema.EventStepCompleted,
		WorkflowID: workflowID,
		StepID:     node.StepID,
		Payload:    map[string]any{"duration_ms": record.DurationMs, "retry_count": record.RetryCount},
	})
	e.logger.InfoContext(ctx, "step completed",
		"workflow_id", workflowID, "step_id", node.StepID,
		"duration_ms", record.DurationMs, "retry_count", record.RetryCount)
	return nil
}

// recordStepFailure marks the record failed, appends a medium-severity
// workflow error, and emits step:failed.
func (e *Engine) recordStepFailure(ctx context.Context, workflowID string, node *schema.WorkflowNode, record *schema.WorkflowStep, attemptErr error) {
	e.mu.Lock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return
	}
	e.finishRecord(record, schema.StepStatusFailed, nil)
	syncRecordLocked(state, record)
	state.Errors = append(state.Errors, &schema.WorkflowError{
		ID:        uuid.NewString(),
		StepID:    node.StepID,
		Message:   attemptErr.Error(),
		Code:      schema.ErrCodeStepExecution,
		Severity:  schema.SeverityMedium,
		Timestamp: e.clock.Now(),
	})
	_ = e.persistLocked(ctx, state)
	e.mu.Unlock()

	e.emit(ctx, schema.Event{
		Type:       schema.EventStepFailed,
		WorkflowID: workflowID,
		StepID:     node.StepID,
		Payload:    map[string]any{"error": attemptErr.Error(), "retry_count": record.RetryCount},
	})
	e.logger.ErrorContext(ctx, "step failed",
		"workflow_id", workflowID, "step_id", node.StepID,
		"error", attemptErr.Error(), "retry_count", record.RetryCount)
}

// failWorkflow propagates an exhausted step failure to the workflow level.
func (e *Engine) failWorkflow(ctx context.Context, workflowID, stepID string, stepErr error) error {
	e.mu.Lock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if state.Status != schema.WorkflowStatusRunning {
		// Cancel landed first; the workflow keeps its cancelled status.
		e.mu.Unlock()
		return stepErr
	}

	state.Status = schema.WorkflowStatusFailed
	state.Errors = append(state.Errors, &schema.WorkflowError{
		ID:        uuid.NewString(),
		StepID:    stepID,
		Message:   stepErr.Error(),
		Code:      schema.ErrCodeWorkflowExecution,
		Severity:  schema.SeverityHigh,
		Timestamp: e.clock.Now(),
	})
	_ = e.persistLocked(ctx, state)
	e.mu.Unlock()

	e.emit(ctx, schema.Event{
		Type:       schema.EventWorkflowFailed,
		WorkflowID: workflowID,
		StepID:     stepID,
		Payload:    map[string]any{"error": stepErr.Error()},
	})
	e.logger.ErrorContext(ctx, "workflow failed",
		"workflow_id", workflowID, "step_id", stepID, "error", stepErr.Error())

	if ee, ok := stepErr.(*schema.EngineError); ok && ee.Code == schema.ErrCodeWorkflowExecution {
		return stepErr
	}
	return schema.NewErrorf(schema.ErrCodeWorkflowExecution,
		"step %s failed after %s", stepID, stepErr.Error()).WithStep(stepID).WithCause(stepErr)
}

func (e *Engine) evalGuard(ctx context.Context, node *schema.WorkflowNode, data map[string]any) (bool, error) {
	dialect := node.GuardEngine
	if dialect == "" {
		dialect = "cel"
	}
	eng, ok := e.guards[dialect]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown guard engine %q", dialect).WithStep(node.StepID)
	}
	// Guards reference workflow data as data.<field> in both dialects.
	val, err := eng.Evaluate(ctx, node.Guard, map[string]any{"data": data})
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"guard %q did not evaluate to a boolean", node.Guard).WithStep(node.StepID)
	}
	return b, nil
}

// syncRecordLocked writes the in-flight step record into a freshly loaded
// state. Store reads may return copies rather than live pointers, so the
// history entry inside state is not necessarily the object executeStep
// holds. Caller holds e.mu.
func syncRecordLocked(state *schema.WorkflowState, record *schema.WorkflowStep) {
	cp := *record
	for i := len(state.History) - 1; i >= 0; i-- {
		if state.History[i].ID == record.ID {
			state.History[i] = &cp
			return
		}
	}
	state.History = append(state.History, &cp)
}

func (e *Engine) finishRecord(record *schema.WorkflowStep, status schema.StepStatus, output map[string]any) {
	now := e.clock.Now()
	record.Status = status
	record.CompletedAt = &now
	record.DurationMs = now.Sub(record.StartedAt).Milliseconds()
	if output != nil {
		record.Output = output
	}
}

// --- Query API ---

// GetWorkflow returns a snapshot of the workflow state.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*schema.WorkflowState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return snapshotState(state), nil
}

// ListWorkflows returns snapshots of workflows matching the filter, oldest
// first.
func (e *Engine) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	states, err := e.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list workflows: %s", err.Error()).WithCause(err)
	}
	out := make([]*schema.WorkflowState, len(states))
	for i, s := range states {
		out[i] = snapshotState(s)
	}
	return out, nil
}

// ListRunning returns snapshots of workflows currently in status running.
func (e *Engine) ListRunning(ctx context.Context) ([]*schema.WorkflowState, error) {
	running := schema.WorkflowStatusRunning
	return e.ListWorkflows(ctx, store.WorkflowFilter{Status: &running})
}

// GetWorkflowHistory returns the step history. Unknown workflows yield an
// empty slice, not an error.
func (e *Engine) GetWorkflowHistory(ctx context.Context, workflowID string) []*schema.WorkflowStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		return []*schema.WorkflowStep{}
	}
	return snapshotState(state).History
}

// GetWorkflowErrors returns recorded errors. Unknown workflows yield an
// empty slice, not an error.
func (e *Engine) GetWorkflowErrors(ctx context.Context, workflowID string) []*schema.WorkflowError {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, err := e.loadLocked(ctx, workflowID)
	if err != nil {
		return []*schema.WorkflowError{}
	}
	return snapshotState(state).Errors
}

// GetEvents returns the audit log entries for a workflow with sequence
// greater than since.
func (e *Engine) GetEvents(ctx context.Context, workflowID string, since int64) ([]*store.Event, error) {
	evs, err := e.store.GetEvents(ctx, workflowID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}
	return evs, nil
}

// --- internal helpers ---

// loadLocked fetches the live state record. Caller holds e.mu.
func (e *Engine) loadLocked(ctx context.Context, workflowID string) (*schema.WorkflowState, error) {
	state, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load workflow: %s", err.Error()).WithCause(err)
	}
	if state == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", workflowID)
	}
	return state, nil
}

// persistLocked stamps UpdatedAt and writes the state back. Caller holds
// e.mu.
func (e *Engine) persistLocked(ctx context.Context, state *schema.WorkflowState) error {
	state.UpdatedAt = e.clock.Now()
	if err := e.store.PutWorkflow(ctx, state); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist workflow: %s", err.Error()).WithCause(err)
	}
	return nil
}

// emit fans the event out to listeners and appends it to the audit log.
func (e *Engine) emit(ctx context.Context, event schema.Event) {
	e.bus.Emit(event)

	var payload json.RawMessage
	if len(event.Payload) > 0 {
		payload, _ = json.Marshal(event.Payload)
	}
	if err := e.store.AppendEvent(ctx, &store.Event{
		WorkflowID: event.WorkflowID,
		StepID:     event.StepID,
		Type:       event.Type,
		Payload:    payload,
		Timestamp:  e.clock.Now(),
	}); err != nil {
		e.logger.WarnContext(ctx, "audit event append failed",
			"workflow_id", event.WorkflowID, "event", event.Type, "error", err.Error())
	}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func snapshotState(state *schema.WorkflowState) *schema.WorkflowState {
	cp := *state
	cp.StepOrder = append([]string(nil), state.StepOrder...)
	cp.Data = copyData(state.Data)
	cp.History = make([]*schema.WorkflowStep, len(state.History))
	for i, rec := range state.History {
		r := *rec
		r.Input = copyData(rec.Input)
		r.Output = copyData(rec.Output)
		cp.History[i] = &r
	}
	cp.Errors = make([]*schema.WorkflowError, len(state.Errors))
	for i, we := range state.Errors {
		w := *we
		cp.Errors[i] = &w
	}
	return &cp
}

