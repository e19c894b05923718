package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/buffrsign/engine/pkg/schema"
)

// Store defines the persistence contract for workflow state, the node
// registry, and the audit event log. All implementations must be safe for
// concurrent use. The engine serializes mutation per workflow id; the store
// only has to support concurrent reads alongside single-workflow writes.
type Store interface {
	// Workflow state registry
	PutWorkflow(ctx context.Context, state *schema.WorkflowState) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowState, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowState, error)

	// Node registry (process-wide, immutable once a workflow references a node)
	PutNode(ctx context.Context, node *schema.WorkflowNode) error
	GetNode(ctx context.Context, stepID string) (*schema.WorkflowNode, error)

	// Audit event log (append-only, per-workflow monotonic sequence)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error)

	// Encrypted credential storage (values are opaque ciphertext)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	Close() error
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status     *schema.WorkflowStatus `json:"status,omitempty"`
	DocumentID string                 `json:"document_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// Event is an immutable entry in the audit log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	StepID     string          `json:"step_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}
