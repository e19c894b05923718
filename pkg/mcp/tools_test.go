package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buffrsign/engine/internal/engine"
	"github.com/buffrsign/engine/internal/executors"
	"github.com/buffrsign/engine/internal/scheduler"
	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/pkg/schema"
)

// --- Test fixtures ---

type stubExecutor struct {
	typ schema.WorkflowStepType
	out map[string]any
}

func (s *stubExecutor) Type() schema.WorkflowStepType { return s.typ }
func (s *stubExecutor) OutputSchema() json.RawMessage { return nil }
func (s *stubExecutor) Execute(context.Context, executors.Input) (map[string]any, error) {
	return s.out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := executors.NewRegistry()
	for _, typ := range schema.StepTypes {
		require.NoError(t, registry.Register(&stubExecutor{
			typ: typ,
			out: map[string]any{string(typ): "done"},
		}))
	}
	eng := engine.New(store.NewMemoryStore(), registry)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(ServerDeps{
		Engine:    eng,
		Scheduler: scheduler.New(eng, logger),
		Logger:    logger,
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func createdWorkflowID(t *testing.T, s *Server, args map[string]any) string {
	t.Helper()
	result, err := s.handleCreate(context.Background(), buildRequest("buffrsign.create", args))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	id, _ := out["workflow_id"].(string)
	require.NotEmpty(t, id)
	return id
}

// --- Create ---

func TestCreateTool_TemplateMode(t *testing.T) {
	s := newTestServer(t)

	id := createdWorkflowID(t, s, map[string]any{
		"document_id":   "doc-1",
		"user_id":       "user-1",
		"document_type": "contract",
		"priority":      "high",
	})

	state, err := s.engine.GetWorkflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusInitialized, state.Status)
	assert.Equal(t, "doc-1", state.Metadata.DocumentID)
	assert.Equal(t, schema.PriorityHigh, state.Metadata.Priority)
}

func TestCreateTool_TemplateModeRequiresUserID(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreate(context.Background(),
		buildRequest("buffrsign.create", map[string]any{"document_id": "doc-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateTool_CustomSteps(t *testing.T) {
	s := newTestServer(t)

	id := createdWorkflowID(t, s, map[string]any{
		"name": "custom review",
		"steps": []any{
			map[string]any{"id": "analyze", "type": "document_analysis", "name": "Analyze"},
			map[string]any{"id": "notify", "type": "notification", "name": "Notify"},
		},
	})

	state, err := s.engine.GetWorkflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "custom review", state.Name)
	assert.Equal(t, []string{"analyze", "notify"}, state.StepOrder)
}

func TestCreateTool_MissingModeArguments(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreate(context.Background(),
		buildRequest("buffrsign.create", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateTool_InvalidSteps(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreate(context.Background(),
		buildRequest("buffrsign.create", map[string]any{
			"name":  "bad",
			"steps": []any{map[string]any{"id": "x", "type": "teleportation", "name": "X"}},
		}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Run ---

func TestRunTool_ExecutesToCompletion(t *testing.T) {
	s := newTestServer(t)
	id := createdWorkflowID(t, s, map[string]any{
		"document_id": "doc-2",
		"user_id":     "user-1",
	})

	result, err := s.handleRun(context.Background(),
		buildRequest("buffrsign.run", map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, string(schema.WorkflowStatusCompleted), out["status"])
}

func TestRunTool_MissingParams(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("buffrsign.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_UnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("buffrsign.run", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Control ---

func TestControlTool_Cancel(t *testing.T) {
	s := newTestServer(t)
	id := createdWorkflowID(t, s, map[string]any{
		"document_id": "doc-3",
		"user_id":     "user-1",
	})

	result, err := s.handleControl(context.Background(),
		buildRequest("buffrsign.control", map[string]any{"workflow_id": id, "action": "cancel"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, string(schema.WorkflowStatusCancelled), out["status"])
}

func TestControlTool_InvalidAction(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleControl(context.Background(),
		buildRequest("buffrsign.control", map[string]any{"workflow_id": "wf", "action": "restart"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestControlTool_PauseRequiresRunning(t *testing.T) {
	s := newTestServer(t)
	id := createdWorkflowID(t, s, map[string]any{
		"document_id": "doc-4",
		"user_id":     "user-1",
	})

	result, err := s.handleControl(context.Background(),
		buildRequest("buffrsign.control", map[string]any{"workflow_id": id, "action": "pause"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Status ---

func TestStatusTool(t *testing.T) {
	s := newTestServer(t)
	id := createdWorkflowID(t, s, map[string]any{
		"document_id": "doc-5",
		"user_id":     "user-1",
	})

	result, err := s.handleStatus(context.Background(),
		buildRequest("buffrsign.status", map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var state schema.WorkflowState
	unmarshalResult(t, result, &state)
	assert.Equal(t, id, state.ID)
	assert.Equal(t, schema.WorkflowStatusInitialized, state.Status)
}

func TestStatusTool_UnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStatus(context.Background(),
		buildRequest("buffrsign.status", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Query ---

func TestQueryTool_WorkflowsWithFilter(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createdWorkflowID(t, s, map[string]any{"document_id": "doc-6", "user_id": "user-1"})
	createdWorkflowID(t, s, map[string]any{"document_id": "doc-7", "user_id": "user-2"})

	require.NoError(t, s.engine.Run(ctx, id))

	result, err := s.handleQuery(ctx, buildRequest("buffrsign.query", map[string]any{
		"target": "workflows",
		"filter": map[string]any{"status": "completed"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Count     int                    `json:"count"`
		Workflows []schema.WorkflowState `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, id, out.Workflows[0].ID)
}

func TestQueryTool_HistoryAfterRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createdWorkflowID(t, s, map[string]any{"document_id": "doc-8", "user_id": "user-1"})
	require.NoError(t, s.engine.Run(ctx, id))

	result, err := s.handleQuery(ctx, buildRequest("buffrsign.query", map[string]any{
		"target":      "history",
		"workflow_id": id,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Count int `json:"count"`
	}
	unmarshalResult(t, result, &out)
	assert.Greater(t, out.Count, 1)
}

func TestQueryTool_RequiresWorkflowIDForScopedTargets(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"history", "errors", "events"} {
		result, err := s.handleQuery(context.Background(),
			buildRequest("buffrsign.query", map[string]any{"target": target}))
		require.NoError(t, err)
		assert.True(t, result.IsError, target)
	}
}

func TestQueryTool_UnknownTarget(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleQuery(context.Background(),
		buildRequest("buffrsign.query", map[string]any{"target": "signatures"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Schedule ---

func TestScheduleTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSchedule(context.Background(),
		buildRequest("buffrsign.schedule", map[string]any{
			"job_id":        "nightly-compliance",
			"cron":          "0 2 * * *",
			"document_id":   "doc-9",
			"user_id":       "user-1",
			"document_type": "financial",
		}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	jobs := s.scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly-compliance", jobs[0].ID)
	assert.NotNil(t, jobs[0].NextRunAt)
}

func TestScheduleTool_InvalidCron(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSchedule(context.Background(),
		buildRequest("buffrsign.schedule", map[string]any{
			"job_id":      "bad",
			"cron":        "not a cron",
			"document_id": "doc-9",
			"user_id":     "user-1",
		}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTool_DisabledScheduler(t *testing.T) {
	registry := executors.NewRegistry()
	eng := engine.New(store.NewMemoryStore(), registry)
	s := NewServer(ServerDeps{Engine: eng})

	result, err := s.handleSchedule(context.Background(),
		buildRequest("buffrsign.schedule", map[string]any{
			"job_id":      "j",
			"cron":        "* * * * *",
			"document_id": "d",
			"user_id":     "u",
		}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Helpers ---

func TestExtractInt(t *testing.T) {
	m := map[string]any{"limit": float64(5), "n": 7, "s": "12", "bad": "x"}

	assert.Equal(t, 5, extractInt(m, "limit", 0))
	assert.Equal(t, 7, extractInt(m, "n", 0))
	assert.Equal(t, 12, extractInt(m, "s", 0))
	assert.Equal(t, 3, extractInt(m, "bad", 3))
	assert.Equal(t, 3, extractInt(m, "missing", 3))
	assert.Equal(t, 3, extractInt(nil, "limit", 3))
}

func TestExtractString(t *testing.T) {
	m := map[string]any{"status": "running", "n": 1}

	assert.Equal(t, "running", extractString(m, "status"))
	assert.Empty(t, extractString(m, "n"))
	assert.Empty(t, extractString(nil, "status"))
}
