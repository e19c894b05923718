package schema

// Lifecycle event names. Listeners register per name; emission is
// synchronous and in transition order.
const (
	EventWorkflowCreated   = "workflow:created"
	EventWorkflowStarted   = "workflow:started"
	EventWorkflowPaused    = "workflow:paused"
	EventWorkflowResumed   = "workflow:resumed"
	EventWorkflowCancelled = "workflow:cancelled"
	EventWorkflowCompleted = "workflow:completed"
	EventWorkflowFailed    = "workflow:failed"

	EventStepStarted   = "step:started"
	EventStepCompleted = "step:completed"
	EventStepSkipped   = "step:skipped"
	EventStepFailed    = "step:failed"
	EventStepRetry     = "step:retry"
)

// AllEvents returns every lifecycle event name.
func AllEvents() []string {
	return []string{
		EventWorkflowCreated,
		EventWorkflowStarted,
		EventWorkflowPaused,
		EventWorkflowResumed,
		EventWorkflowCancelled,
		EventWorkflowCompleted,
		EventWorkflowFailed,
		EventStepStarted,
		EventStepCompleted,
		EventStepSkipped,
		EventStepFailed,
		EventStepRetry,
	}
}

// Event is the payload delivered to listeners and appended to the audit log.
type Event struct {
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
