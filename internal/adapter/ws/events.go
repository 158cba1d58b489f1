package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunStatus         = "run.status"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
)

// RunStatusEvent is broadcast when a run starts, suspends, completes, or fails.
type RunStatusEvent struct {
	RunID  string `json:"run_id"`
	Intent string `json:"intent,omitempty"`
	Status string `json:"status"`
}

// ApprovalRequestedEvent is broadcast when a run suspends waiting for a human
// decision.
type ApprovalRequestedEvent struct {
	RunID           string   `json:"run_id"`
	ApprovalReasons []string `json:"approval_reasons"`
	PlanSteps       int      `json:"plan_steps"`
}

// ApprovalResolvedEvent is broadcast when an operator approves or rejects a
// pending run.
type ApprovalResolvedEvent struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolved_by"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
