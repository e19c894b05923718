package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/buffrsign/engine/internal/engine"
	"github.com/buffrsign/engine/internal/events"
	"github.com/buffrsign/engine/pkg/schema"
)

// UserNotifier pushes notifications to connected users.
type UserNotifier interface {
	Notify(ctx context.Context, userID string, payload map[string]any) error
}

// MCPNotifier implements UserNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the user's session.
// Best-effort: returns nil if the user is not connected.
func (n *MCPNotifier) Notify(_ context.Context, userID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(userID)
	if !ok {
		return nil // user not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send, not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// workflowNotificationEvents are the lifecycle events forwarded to users.
var workflowNotificationEvents = []string{
	schema.EventWorkflowCompleted,
	schema.EventWorkflowFailed,
	schema.EventWorkflowCancelled,
}

// AttachNotifications subscribes the notifier to the engine's terminal
// workflow events and pushes them to the owning user's session. Returns a
// detach function.
func AttachNotifications(eng *engine.Engine, notifier UserNotifier) func() {
	type sub struct {
		event string
		id    events.Subscription
	}
	subs := make([]sub, 0, len(workflowNotificationEvents))

	for _, eventType := range workflowNotificationEvents {
		et := eventType
		id := eng.AddEventListener(et, func(event schema.Event) {
			ctx := context.Background()
			state, err := eng.GetWorkflow(ctx, event.WorkflowID)
			if err != nil || state.Metadata.UserID == "" {
				return
			}
			_ = notifier.Notify(ctx, state.Metadata.UserID, map[string]any{
				"event":       event.Type,
				"workflow_id": event.WorkflowID,
				"document_id": state.Metadata.DocumentID,
				"status":      state.Status,
			})
		})
		subs = append(subs, sub{event: et, id: id})
	}

	return func() {
		for _, s := range subs {
			eng.RemoveEventListener(s.event, s.id)
		}
	}
}
