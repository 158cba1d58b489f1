// Package messagequeue defines the port for publishing run lifecycle events.
package messagequeue

import "context"

// Queue publishes run and approval lifecycle events. The engine only
// produces events; dashboards and downstream automations consume them.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Drain flushes buffered messages and closes the connection.
	Drain() error
}

// Subject constants for run lifecycle and approval events.
const (
	SubjectRunStarted         = "runs.started"
	SubjectRunPendingApproval = "runs.pending_approval"
	SubjectRunCompleted       = "runs.completed"
	SubjectRunFailed          = "runs.failed"
	SubjectApprovalResolved   = "approvals.resolved"
)
