package panel

import (
	"net/http"

	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWorkflows lists workflows. Query params: status, document_id,
// user_id, limit.
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		UserID:     r.URL.Query().Get("user_id"),
		Limit:      queryInt(r, "limit", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.WorkflowStatus(v)
		filter.Status = &status
	}

	workflows, err := s.deps.Engine.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (s *Server) handleWorkflowDetail(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Engine.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Engine.GetWorkflowHistory(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"count":   len(history),
	})
}

func (s *Server) handleWorkflowErrors(w http.ResponseWriter, r *http.Request) {
	errs := s.deps.Engine.GetWorkflowErrors(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": errs,
		"count":  len(errs),
	})
}

// handleWorkflowEvents returns the audit log for a workflow. Query param
// "since" skips events with sequence <= since.
func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	events, err := s.deps.Engine.GetEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleSchedulerJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []any{}, "enabled": false})
		return
	}
	jobs := s.deps.Scheduler.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":    jobs,
		"count":   len(jobs),
		"enabled": true,
	})
}
