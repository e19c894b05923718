package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/buffrsign/engine/internal/scheduler"
	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/pkg/schema"
)

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("buffrsign.create",
		mcp.WithDescription("Create a signature workflow. Provide document_id/user_id to use the built-in template for the document type, or name + steps for a custom step sequence"),
		mcp.WithString("document_id", mcp.Description("Document to process (template mode)")),
		mcp.WithString("user_id", mcp.Description("Owner of the document (template mode)")),
		mcp.WithString("document_type", mcp.Description("Document type: contract, financial, identity, or other")),
		mcp.WithString("priority", mcp.Enum("low", "medium", "high", "urgent"), mcp.Description("Workflow priority (default: medium)")),
		mcp.WithString("name", mcp.Description("Workflow name (custom mode)")),
		mcp.WithArray("steps", mcp.Description("Custom step descriptors: [{id, type, name, config?, conditions?}] (custom mode)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("buffrsign.run",
		mcp.WithDescription("Start a created workflow and execute it to completion, pause, or failure"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
	)
}

func controlTool() mcp.Tool {
	return mcp.NewTool("buffrsign.control",
		mcp.WithDescription("Pause, resume, or cancel a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the target workflow")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("pause", "resume", "cancel"),
			mcp.Description("Control action to apply"),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("buffrsign.status",
		mcp.WithDescription("Get the current state of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to query")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("buffrsign.query",
		mcp.WithDescription("Query workflows, step history, recorded errors, or the audit event log"),
		mcp.WithString("target", mcp.Required(),
			mcp.Enum("workflows", "history", "errors", "events"),
			mcp.Description("What to query"),
		),
		mcp.WithString("workflow_id", mcp.Description("Workflow ID (required for history/errors/events)")),
		mcp.WithObject("filter", mcp.Description("Workflow list filter: {status, document_id, user_id, limit}")),
		mcp.WithString("since", mcp.Description("Events: only entries with sequence greater than this")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("buffrsign.schedule",
		mcp.WithDescription("Register a recurring document workflow on a cron schedule (e.g. periodic compliance re-checks)"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Unique job identifier")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Standard 5-field cron expression")),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to process on each run")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the document")),
		mcp.WithString("document_type", mcp.Description("Document type (default: other)")),
		mcp.WithString("priority", mcp.Enum("low", "medium", "high", "urgent"), mcp.Description("Priority for scheduled runs")),
	)
}

// --- Handlers ---

func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID := req.GetString("document_id", "")
	userID := req.GetString("user_id", "")

	if userID != "" {
		s.captureSession(ctx, userID)
	}

	// Template mode.
	if documentID != "" {
		if userID == "" {
			return mcp.NewToolResultError("user_id is required with document_id"), nil
		}
		priority := schema.Priority(req.GetString("priority", ""))
		documentType := req.GetString("document_type", "")

		workflowID, err := s.engine.CreateDocumentWorkflow(ctx, documentID, userID, documentType, priority)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"workflow_id": workflowID})
	}

	// Custom mode.
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("either document_id/user_id or name/steps is required"), nil
	}
	steps, err := parseSteps(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid steps: %v", err)), nil
	}

	var meta *schema.WorkflowMetadata
	if userID != "" {
		meta = &schema.WorkflowMetadata{UserID: userID, Priority: schema.Priority(req.GetString("priority", ""))}
	}

	workflowID, err := s.engine.Create(ctx, name, steps, meta)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflow_id": workflowID})
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	runErr := s.engine.Run(ctx, workflowID)

	state, stateErr := s.engine.GetWorkflow(ctx, workflowID)
	if stateErr != nil {
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("status lookup failed: %v", stateErr)), nil
	}

	result := map[string]any{
		"workflow_id": workflowID,
		"status":      state.Status,
	}
	if runErr != nil {
		result["error"] = runErr.Error()
	}
	return marshalResult(result)
}

func (s *Server) handleControl(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	var ctrlErr error
	switch action {
	case "pause":
		ctrlErr = s.engine.Pause(ctx, workflowID)
	case "resume":
		ctrlErr = s.engine.Resume(ctx, workflowID)
	case "cancel":
		ctrlErr = s.engine.Cancel(ctx, workflowID)
	default:
		return mcp.NewToolResultError("action must be pause, resume, or cancel"), nil
	}
	if ctrlErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, ctrlErr)), nil
	}

	state, stateErr := s.engine.GetWorkflow(ctx, workflowID)
	result := map[string]any{"ok": true, "workflow_id": workflowID, "action": action}
	if stateErr == nil {
		result["status"] = state.Status
	}
	return marshalResult(result)
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	state, stateErr := s.engine.GetWorkflow(ctx, workflowID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", stateErr)), nil
	}
	return marshalResult(state)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("target is required"), nil
	}
	workflowID := req.GetString("workflow_id", "")

	switch target {
	case "workflows":
		filter := mcp.ParseStringMap(req, "filter", nil)
		wfFilter := store.WorkflowFilter{
			DocumentID: extractString(filter, "document_id"),
			UserID:     extractString(filter, "user_id"),
			Limit:      extractInt(filter, "limit", 0),
		}
		if st := extractString(filter, "status"); st != "" {
			status := schema.WorkflowStatus(st)
			wfFilter.Status = &status
		}
		states, listErr := s.engine.ListWorkflows(ctx, wfFilter)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"workflows": states, "count": len(states)})

	case "history":
		if workflowID == "" {
			return mcp.NewToolResultError("workflow_id is required for history"), nil
		}
		history := s.engine.GetWorkflowHistory(ctx, workflowID)
		return marshalResult(map[string]any{"history": history, "count": len(history)})

	case "errors":
		if workflowID == "" {
			return mcp.NewToolResultError("workflow_id is required for errors"), nil
		}
		errs := s.engine.GetWorkflowErrors(ctx, workflowID)
		return marshalResult(map[string]any{"errors": errs, "count": len(errs)})

	case "events":
		if workflowID == "" {
			return mcp.NewToolResultError("workflow_id is required for events"), nil
		}
		since, _ := strconv.ParseInt(req.GetString("since", "0"), 10, 64)
		events, evErr := s.engine.GetEvents(ctx, workflowID, since)
		if evErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("events query failed: %v", evErr)), nil
		}
		return marshalResult(map[string]any{"events": events, "count": len(events)})

	default:
		return mcp.NewToolResultError("target must be workflows, history, errors, or events"), nil
	}
}

func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not enabled"), nil
	}
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	s.captureSession(ctx, userID)

	job := &scheduler.Job{
		ID:             jobID,
		CronExpression: cronExpr,
		DocumentID:     documentID,
		UserID:         userID,
		DocumentType:   req.GetString("document_type", "other"),
		Priority:       schema.Priority(req.GetString("priority", "")),
		Enabled:        true,
	}
	if addErr := s.scheduler.AddJob(job); addErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", addErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "job_id": jobID, "next_run_at": job.NextRunAt})
}

// --- Helpers ---

func parseSteps(req mcp.CallToolRequest) ([]schema.StepDescriptor, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	raw, ok := args["steps"]
	if !ok {
		return nil, fmt.Errorf("steps is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps []schema.StepDescriptor
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func extractString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// extractInt safely extracts an integer from a filter map.
func extractInt(m map[string]any, key string, defaultVal int) int {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the user ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, userID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(userID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
