package schema

import (
	"encoding/json"
	"time"
)

// WorkflowStepType enumerates the kinds of steps a signing workflow can contain.
type WorkflowStepType string

const (
	StepTypeDocumentAnalysis   WorkflowStepType = "document_analysis"
	StepTypeAIExtraction       WorkflowStepType = "ai_extraction"
	StepTypeComplianceCheck    WorkflowStepType = "compliance_check"
	StepTypeSignaturePlacement WorkflowStepType = "signature_placement"
	StepTypeKYCVerification    WorkflowStepType = "kyc_verification"
	StepTypeNotification       WorkflowStepType = "notification"
	StepTypeHumanReview        WorkflowStepType = "human_review"
)

// StepTypes lists every valid WorkflowStepType.
var StepTypes = []WorkflowStepType{
	StepTypeDocumentAnalysis,
	StepTypeAIExtraction,
	StepTypeComplianceCheck,
	StepTypeSignaturePlacement,
	StepTypeKYCVerification,
	StepTypeNotification,
	StepTypeHumanReview,
}

// IsValidStepType reports whether t is a known step type.
func IsValidStepType(t WorkflowStepType) bool {
	for _, st := range StepTypes {
		if st == t {
			return true
		}
	}
	return false
}

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusInitialized WorkflowStatus = "initialized"
	WorkflowStatusRunning     WorkflowStatus = "running"
	WorkflowStatusPaused      WorkflowStatus = "paused"
	WorkflowStatusCompleted   WorkflowStatus = "completed"
	WorkflowStatusFailed      WorkflowStatus = "failed"
	WorkflowStatusCancelled   WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

// StepStatus represents the lifecycle state of a step execution record.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Priority of a workflow, set once at creation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ErrorSeverity classifies recorded workflow errors.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// BackoffStrategy maps a retry attempt number to a wait duration.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// ConditionOperator enumerates the predicate operators usable in node conditions.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpExists      ConditionOperator = "exists"
	OpRegex       ConditionOperator = "regex"
)

// StepDescriptor describes a single step at workflow creation time. The
// optional fields carry straight through to the registered WorkflowNode;
// Retry left nil gets DefaultRetryPolicy.
type StepDescriptor struct {
	ID           string           `json:"id"`
	Type         WorkflowStepType `json:"type"`
	Name         string           `json:"name"`
	Config       map[string]any   `json:"config,omitempty"`
	Conditions   []Condition      `json:"conditions,omitempty"`
	Guard        string           `json:"guard,omitempty"`
	GuardEngine  string           `json:"guard_engine,omitempty"`
	Retry        *RetryPolicy     `json:"retry,omitempty"`
	OutputSchema json.RawMessage  `json:"output_schema,omitempty"`
	Timeout      time.Duration    `json:"timeout,omitempty"`
}

// Condition is a predicate over workflow data gating step execution.
// Field is a dot-path into the data map; a missing intermediate key makes
// the looked-up value absent (exists=false, every comparison false).
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// RetryPolicy configures retry behavior for a node.
// An empty RetryableErrors list means any error is retryable.
type RetryPolicy struct {
	MaxRetries      int             `json:"max_retries"`
	Backoff         BackoffStrategy `json:"backoff"`
	RetryableErrors []string        `json:"retryable_errors,omitempty"`
}

// DefaultRetryPolicy is applied to nodes registered without an explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: BackoffExponential}
}

// WorkflowNode is the registered executor configuration for one step.
// Nodes are process-wide, populated at workflow creation time, and treated
// as immutable once a workflow references them.
type WorkflowNode struct {
	StepID       string           `json:"step_id"`
	Type         WorkflowStepType `json:"type"`
	Name         string           `json:"name"`
	Config       map[string]any   `json:"config,omitempty"`
	Conditions   []Condition      `json:"conditions,omitempty"`
	Guard        string           `json:"guard,omitempty"`        // optional expression evaluated against data
	GuardEngine  string           `json:"guard_engine,omitempty"` // cel (default) | expr
	Retry        RetryPolicy      `json:"retry"`
	OutputSchema json.RawMessage  `json:"output_schema,omitempty"` // JSON Schema for the executor output
	Timeout      time.Duration    `json:"timeout,omitempty"`       // advisory, not timer-enforced
}

// WorkflowMetadata is set once at creation and read-only thereafter.
type WorkflowMetadata struct {
	DocumentID             string        `json:"document_id,omitempty"`
	UserID                 string        `json:"user_id,omitempty"`
	DocumentType           string        `json:"document_type,omitempty"`
	Priority               Priority      `json:"priority"`
	EstimatedDuration      time.Duration `json:"estimated_duration,omitempty"`
	RequiredAIModels       []string      `json:"required_ai_models,omitempty"`
	ComplianceRequirements []string      `json:"compliance_requirements,omitempty"`
}

// WorkflowState is the mutable execution record of one workflow instance.
// It is exclusively owned by the engine's registry; all mutation goes
// through engine methods.
type WorkflowState struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Status      WorkflowStatus   `json:"status"`
	CurrentStep string           `json:"current_step"`
	StepOrder   []string         `json:"step_order"`
	Data        map[string]any   `json:"data"`
	History     []*WorkflowStep  `json:"history"`
	Errors      []*WorkflowError `json:"errors"`
	Metadata    WorkflowMetadata `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// WorkflowStep is one history entry. On retry the same record is reused:
// RetryCount increments and Status cycles back through running.
type WorkflowStep struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        WorkflowStepType `json:"type"`
	Status      StepStatus       `json:"status"`
	Input       map[string]any   `json:"input,omitempty"`
	Output      map[string]any   `json:"output,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	RetryCount  int              `json:"retry_count"`
	MaxRetries  int              `json:"max_retries"`
}

// WorkflowError is an append-only error record on a workflow.
type WorkflowError struct {
	ID        string        `json:"id"`
	StepID    string        `json:"step_id,omitempty"`
	Message   string        `json:"message"`
	Code      string        `json:"code"`
	Severity  ErrorSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Resolved  bool          `json:"resolved"`
}
