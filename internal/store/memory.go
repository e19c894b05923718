package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/buffrsign/engine/pkg/schema"
)

// MemoryStore is the default in-memory Store implementation. Each workflow
// id maps to exactly one mutable state record, so two workflows can never
// observe each other's mutations.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*schema.WorkflowState
	nodes     map[string]*schema.WorkflowNode
	events    map[string][]*Event
	secrets   map[string][]byte
	nextID    int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.WorkflowState),
		nodes:     make(map[string]*schema.WorkflowNode),
		events:    make(map[string][]*Event),
		secrets:   make(map[string][]byte),
	}
}

// PutWorkflow registers or refreshes a workflow state record.
func (s *MemoryStore) PutWorkflow(_ context.Context, state *schema.WorkflowState) error {
	if state == nil || state.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow state missing id")
	}
	s.mu.Lock()
	s.workflows[state.ID] = state
	s.mu.Unlock()
	return nil
}

// GetWorkflow returns the live state record for id, or nil if unknown.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows[id], nil
}

// ListWorkflows returns all workflows matching the filter, oldest first.
func (s *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.WorkflowState, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.DocumentID != "" && wf.Metadata.DocumentID != filter.DocumentID {
			continue
		}
		if filter.UserID != "" && wf.Metadata.UserID != filter.UserID {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PutNode registers a node descriptor keyed by step id.
func (s *MemoryStore) PutNode(_ context.Context, node *schema.WorkflowNode) error {
	if node == nil || node.StepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "node missing step id")
	}
	s.mu.Lock()
	s.nodes[node.StepID] = node
	s.mu.Unlock()
	return nil
}

// GetNode returns the node registered for stepID, or nil if unknown.
func (s *MemoryStore) GetNode(_ context.Context, stepID string) (*schema.WorkflowNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[stepID], nil
}

// AppendEvent appends an event with the next per-workflow sequence number.
func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	if event == nil {
		return schema.NewError(schema.ErrCodeValidation, "event is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	event.ID = s.nextID
	event.Sequence = int64(len(s.events[event.WorkflowID]) + 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events[event.WorkflowID] = append(s.events[event.WorkflowID], event)
	return nil
}

// GetEvents returns events for a workflow with sequence > since, in order.
func (s *MemoryStore) GetEvents(_ context.Context, workflowID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[workflowID]
	out := make([]*Event, 0, len(all))
	for _, e := range all {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	return out, nil
}

// StoreSecret saves an opaque credential blob under key.
func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is empty")
	}
	s.mu.Lock()
	s.secrets[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

// GetSecret returns the credential blob for key.
func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret not found: %s", key)
	}
	return append([]byte(nil), value...), nil
}

// DeleteSecret removes the credential blob for key.
func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.secrets, key)
	s.mu.Unlock()
	return nil
}

// ListSecrets returns stored credential keys, sorted.
func (s *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
