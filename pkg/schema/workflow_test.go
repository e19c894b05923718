package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidStepType(t *testing.T) {
	for _, st := range StepTypes {
		assert.True(t, IsValidStepType(st), string(st))
	}
	assert.False(t, IsValidStepType("document_signing"))
	assert.False(t, IsValidStepType(""))
}

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	assert.True(t, WorkflowStatusCompleted.IsTerminal())
	assert.True(t, WorkflowStatusFailed.IsTerminal())
	assert.True(t, WorkflowStatusCancelled.IsTerminal())

	assert.False(t, WorkflowStatusInitialized.IsTerminal())
	assert.False(t, WorkflowStatusRunning.IsTerminal())
	assert.False(t, WorkflowStatusPaused.IsTerminal())
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, BackoffExponential, p.Backoff)
	assert.Empty(t, p.RetryableErrors)
}

func TestAllEvents_CoversWorkflowAndStepLifecycles(t *testing.T) {
	all := AllEvents()
	assert.Len(t, all, 12)
	assert.Contains(t, all, EventWorkflowStarted)
	assert.Contains(t, all, EventWorkflowResumed)
	assert.Contains(t, all, EventStepRetry)

	seen := map[string]bool{}
	for _, name := range all {
		assert.False(t, seen[name], name)
		seen[name] = true
	}
}
