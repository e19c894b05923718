package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/buffrsign/engine/internal/events"
	"github.com/buffrsign/engine/pkg/schema"
)

// handleSSEGlobal streams all lifecycle events via Server-Sent Events.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, "")
}

// handleSSEWorkflow streams events for a specific workflow.
func (s *Server) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, r.PathValue("id"))
}

// serveSSE bridges the synchronous event bus onto an HTTP stream. The
// listener never blocks the engine: when the client falls behind, events
// are dropped rather than queued.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, workflowID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := make(chan schema.Event, 64)
	listener := func(event schema.Event) {
		if workflowID != "" && event.WorkflowID != workflowID {
			return
		}
		select {
		case ch <- event:
		default:
		}
	}

	names := schema.AllEvents()
	subs := make([]events.Subscription, len(names))
	for i, name := range names {
		subs[i] = s.deps.Engine.AddEventListener(name, listener)
	}
	defer func() {
		for i, name := range names {
			s.deps.Engine.RemoveEventListener(name, subs[i])
		}
	}()

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
