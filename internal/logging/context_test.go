package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_CorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, WorkflowID(ctx))
	assert.Empty(t, StepID(ctx))
	assert.Empty(t, DocumentID(ctx))

	ctx = WithWorkflowID(ctx, "wf-1")
	ctx = WithStepID(ctx, "analyze")
	ctx = WithDocumentID(ctx, "doc-42")

	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "analyze", StepID(ctx))
	assert.Equal(t, "doc-42", DocumentID(ctx))
}

func TestContext_WithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "wf-1", "sign", "doc-9")

	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "sign", StepID(ctx))
	assert.Equal(t, "doc-9", DocumentID(ctx))
}

func TestLogWith_AddsOnlyPresentIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithWorkflowID(context.Background(), "wf-1")
	LogWith(ctx, logger).Info("step dispatched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "wf-1", entry["workflow_id"])
	assert.NotContains(t, entry, "step_id")
	assert.NotContains(t, entry, "document_id")
}

func TestCorrelationHandler_InjectsIDsFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithIDs(context.Background(), "wf-2", "notify", "doc-7")
	logger.InfoContext(ctx, "notification sent", "recipient", "user-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "wf-2", entry["workflow_id"])
	assert.Equal(t, "notify", entry["step_id"])
	assert.Equal(t, "doc-7", entry["document_id"])
	assert.Equal(t, "user-1", entry["recipient"])
}

func TestCorrelationHandler_PlainContextAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "engine started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "workflow_id")
	assert.NotContains(t, entry, "step_id")
	assert.NotContains(t, entry, "document_id")
}

func TestCorrelationHandler_WithAttrsPreservesInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	logger = logger.With("component", "scheduler")

	ctx := WithWorkflowID(context.Background(), "wf-3")
	logger.InfoContext(ctx, "job fired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "wf-3", entry["workflow_id"])
}
