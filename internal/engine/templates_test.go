package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buffrsign/engine/internal/executors"
	"github.com/buffrsign/engine/pkg/schema"
)

func fullRegistry(t *testing.T) *executors.Registry {
	t.Helper()
	reg := executors.NewRegistry()
	for _, typ := range schema.StepTypes {
		typ := typ
		key := string(typ)
		require.NoError(t, reg.Replace(&stubExecutor{typ: typ,
			fn: func(executors.Input) (map[string]any, error) {
				return map[string]any{key: "done"}, nil
			}}))
	}
	return reg
}

func TestCreateDocumentWorkflow_ContractTemplate(t *testing.T) {
	eng, _ := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	id, err := eng.CreateDocumentWorkflow(ctx, "doc-42", "user-7", "contract", "")
	require.NoError(t, err)

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Contract Signature Workflow", state.Name)
	assert.Equal(t, "doc-42", state.Metadata.DocumentID)
	assert.Equal(t, "user-7", state.Metadata.UserID)
	assert.Equal(t, "contract", state.Metadata.DocumentType)
	assert.Equal(t, schema.PriorityMedium, state.Metadata.Priority)
	assert.Equal(t, 15*time.Minute, state.Metadata.EstimatedDuration)
	assert.Contains(t, state.Metadata.ComplianceRequirements, "cran_accredited")

	// Step ids are namespaced by document.
	want := []string{
		"doc-42_analyze", "doc-42_extract", "doc-42_compliance",
		"doc-42_placement", "doc-42_notify",
	}
	assert.Equal(t, want, state.StepOrder)
}

func TestCreateDocumentWorkflow_UnknownTypeUsesGeneric(t *testing.T) {
	eng, _ := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	id, err := eng.CreateDocumentWorkflow(ctx, "doc-1", "user-1", "napkin_sketch", schema.PriorityHigh)
	require.NoError(t, err)

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Document Signature Workflow", state.Name)
	assert.Equal(t, schema.PriorityHigh, state.Metadata.Priority)
	assert.Len(t, state.StepOrder, 5)
}

func TestCreateDocumentWorkflow_CaseInsensitiveType(t *testing.T) {
	eng, _ := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	id, err := eng.CreateDocumentWorkflow(ctx, "doc-2", "user-1", "Financial", "")
	require.NoError(t, err)

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Financial Agreement Workflow", state.Name)
	assert.Equal(t, "financial", state.Metadata.DocumentType)
	assert.Len(t, state.StepOrder, 7)
}

func TestCreateDocumentWorkflow_RequiresIDs(t *testing.T) {
	eng, _ := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	_, err := eng.CreateDocumentWorkflow(ctx, "", "user-1", "contract", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = eng.CreateDocumentWorkflow(ctx, "doc-1", "", "contract", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCreateDocumentWorkflow_RunsToCompletion(t *testing.T) {
	eng, _ := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	id, err := eng.CreateDocumentWorkflow(ctx, "doc-9", "user-2", "identity", "")
	require.NoError(t, err)
	require.NoError(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, state.Status)
	assert.Len(t, state.History, 4) // synthetic start + 3 steps
}

func TestCreateDocumentWorkflow_FinancialReviewGate(t *testing.T) {
	reg := fullRegistry(t)
	// The compliance step reports a passing score, so the human review
	// step's gate (score < 80) does not open.
	require.NoError(t, reg.Replace(&stubExecutor{
		typ: schema.StepTypeComplianceCheck,
		fn: func(executors.Input) (map[string]any, error) {
			return map[string]any{"compliance": map[string]any{"score": 95}}, nil
		}}))
	eng, _ := newTestEngine(t, reg)
	ctx := context.Background()

	id, err := eng.CreateDocumentWorkflow(ctx, "doc-5", "user-3", "financial", "")
	require.NoError(t, err)
	require.NoError(t, eng.Run(ctx, id))

	state, err := eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, state.Status)

	var reviewStatus schema.StepStatus
	for _, rec := range state.History {
		if rec.ID == "doc-5_review" {
			reviewStatus = rec.Status
		}
	}
	assert.Equal(t, schema.StepStatusSkipped, reviewStatus)
}

func TestDocumentTemplateTypes(t *testing.T) {
	types := DocumentTemplateTypes()
	assert.ElementsMatch(t, []string{"contract", "financial", "identity"}, types)
}
