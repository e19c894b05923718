package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buffrsign/engine/internal/executors"
	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/pkg/schema"
)

// copyingStore wraps a Store and serializes workflow state across every
// write and read, the way a database-backed Store behaves: no pointer
// handed out on a read aliases anything the store retains. The engine must
// not rely on mutating previously read records.
type copyingStore struct {
	store.Store
	mu sync.Mutex
}

func newCopyingStore() *copyingStore {
	return &copyingStore{Store: store.NewMemoryStore()}
}

func roundTripState(t *schema.WorkflowState) (*schema.WorkflowState, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var cp schema.WorkflowState
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *copyingStore) PutWorkflow(ctx context.Context, state *schema.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := roundTripState(state)
	if err != nil {
		return err
	}
	return s.Store.PutWorkflow(ctx, cp)
}

func (s *copyingStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.Store.GetWorkflow(ctx, id)
	if err != nil || state == nil {
		return state, err
	}
	return roundTripState(state)
}

func (s *copyingStore) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, err := s.Store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.WorkflowState, len(states))
	for i, st := range states {
		if out[i], err = roundTripState(st); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func newCopyingStoreEngine(t *testing.T, reg *executors.Registry) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return New(newCopyingStore(), reg, WithClock(clock)), clock
}

// countingExecutor wraps a stub and counts invocations so a re-dispatch of
// an already finished step is visible.
type countingExecutor struct {
	*stubExecutor
	mu    sync.Mutex
	calls int
}

func counting(inner *stubExecutor) *countingExecutor {
	c := &countingExecutor{}
	c.stubExecutor = &stubExecutor{typ: inner.typ, out: inner.out, fn: func(in executors.Input) (map[string]any, error) {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()
		return inner.fn(in)
	}}
	return c
}

func (c *countingExecutor) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRun_CopyingStoreCompletesEachStepOnce(t *testing.T) {
	analyze := counting(okExecutor(schema.StepTypeDocumentAnalysis, "analysis"))
	check := counting(okExecutor(schema.StepTypeComplianceCheck, "compliance"))
	notify := counting(okExecutor(schema.StepTypeNotification, "notification"))
	reg := stubRegistry(t, analyze.stubExecutor, check.stubExecutor, notify.stubExecutor)

	eng, _ := newCopyingStoreEngine(t, reg)
	ctx := context.Background()

	id, err := eng.Create(ctx, "Signing Flow", threeSteps(), nil)
	require.NoError(t, err)
	require.NoError(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, state.Status)

	// Exactly one dispatch per step: terminal record statuses must survive
	// the store round trip or the loop would re-dispatch forever.
	assert.Equal(t, 1, analyze.Calls())
	assert.Equal(t, 1, check.Calls())
	assert.Equal(t, 1, notify.Calls())

	history := eng.GetWorkflowHistory(ctx, id)
	require.Len(t, history, 4)
	for _, record := range history {
		assert.Equal(t, schema.StepStatusCompleted, record.Status, record.ID)
		require.NotNil(t, record.CompletedAt, record.ID)
	}

	assert.Equal(t, "done", state.Data["analysis"])
	assert.Equal(t, "done", state.Data["compliance"])
	assert.Equal(t, "done", state.Data["notification"])
}

func TestRun_CopyingStorePersistsRetryProgress(t *testing.T) {
	reg := stubRegistry(t,
		flakyExecutor(schema.StepTypeDocumentAnalysis, 2, "analysis"),
		okExecutor(schema.StepTypeComplianceCheck, "compliance"),
		okExecutor(schema.StepTypeNotification, "notification"),
	)
	eng, clock := newCopyingStoreEngine(t, reg)
	ctx := context.Background()

	id, err := eng.Create(ctx, "Signing Flow", threeSteps(), nil)
	require.NoError(t, err)
	require.NoError(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, state.Status)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())

	history := eng.GetWorkflowHistory(ctx, id)
	require.Len(t, history, 4)
	var analyzeRecord *schema.WorkflowStep
	for _, record := range history {
		if record.ID == "analyze" {
			analyzeRecord = record
		}
	}
	require.NotNil(t, analyzeRecord)
	assert.Equal(t, schema.StepStatusCompleted, analyzeRecord.Status)
	assert.Equal(t, 2, analyzeRecord.RetryCount)

	errs := eng.GetWorkflowErrors(ctx, id)
	require.Len(t, errs, 2)
	for _, werr := range errs {
		assert.Equal(t, "analyze", werr.StepID)
	}
}

func TestRun_CopyingStorePersistsSkippedStatus(t *testing.T) {
	reg := stubRegistry(t, threeExecutors()...)
	eng, _ := newCopyingStoreEngine(t, reg)
	ctx := context.Background()

	steps := threeSteps()
	steps[1].Conditions = []schema.Condition{
		{Field: "analysis", Operator: schema.OpEquals, Value: "never"},
	}

	id, err := eng.Create(ctx, "Signing Flow", steps, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, state.Status)
	assert.NotContains(t, state.Data, "compliance")

	for _, record := range eng.GetWorkflowHistory(ctx, id) {
		if record.ID == "check" {
			assert.Equal(t, schema.StepStatusSkipped, record.Status)
		}
	}
}

func TestRun_CopyingStoreFailurePersistsTerminalRecords(t *testing.T) {
	reg := stubRegistry(t,
		okExecutor(schema.StepTypeDocumentAnalysis, "analysis"),
		flakyExecutor(schema.StepTypeComplianceCheck, 10, "compliance"),
		okExecutor(schema.StepTypeNotification, "notification"),
	)
	eng, _ := newCopyingStoreEngine(t, reg)
	ctx := context.Background()

	steps := threeSteps()
	steps[1].Retry = &schema.RetryPolicy{MaxRetries: 1, Backoff: schema.BackoffFixed}

	id, err := eng.Create(ctx, "Signing Flow", steps, nil)
	require.NoError(t, err)
	require.Error(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusFailed, state.Status)

	var checkRecord *schema.WorkflowStep
	for _, record := range eng.GetWorkflowHistory(ctx, id) {
		if record.ID == "check" {
			checkRecord = record
		}
	}
	require.NotNil(t, checkRecord)
	assert.Equal(t, schema.StepStatusFailed, checkRecord.Status)
	assert.Equal(t, 1, checkRecord.RetryCount)
}
