package engine

import (
	"github.com/buffrsign/engine/pkg/schema"
)

// ValidWorkflowTransitions defines the allowed lifecycle transitions for
// workflows. Terminal states have no outgoing edges.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusInitialized: {schema.WorkflowStatusRunning, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusRunning:     {schema.WorkflowStatusPaused, schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusPaused:      {schema.WorkflowStatusRunning, schema.WorkflowStatusCancelled, schema.WorkflowStatusFailed},
	schema.WorkflowStatusCompleted:   {},
	schema.WorkflowStatusFailed:      {},
	schema.WorkflowStatusCancelled:   {},
}

// ValidStepTransitions defines the allowed transitions for step history
// records. A retried step cycles failed -> pending -> running on the same
// record.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusFailed:    {schema.StepStatusPending},
	schema.StepStatusCompleted: {},
	schema.StepStatusSkipped:   {},
}

// CanTransitionWorkflow reports whether from -> to is a legal workflow
// transition.
func CanTransitionWorkflow(from, to schema.WorkflowStatus) bool {
	for _, a := range ValidWorkflowTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether from -> to is a legal step transition.
func CanTransitionStep(from, to schema.StepStatus) bool {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// workflowEventType maps a workflow status entered via transition to the
// lifecycle event emitted for it. Resume is handled separately since
// paused -> running and initialized -> running share a destination.
func workflowEventType(from, to schema.WorkflowStatus) string {
	switch to {
	case schema.WorkflowStatusRunning:
		if from == schema.WorkflowStatusPaused {
			return schema.EventWorkflowResumed
		}
		return schema.EventWorkflowStarted
	case schema.WorkflowStatusPaused:
		return schema.EventWorkflowPaused
	case schema.WorkflowStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.WorkflowStatusFailed:
		return schema.EventWorkflowFailed
	case schema.WorkflowStatusCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}
