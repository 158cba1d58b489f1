// Package auditstore defines the port for persisting audit records.
package auditstore

import (
	"context"

	"github.com/opspilot-io/opspilot/internal/domain/audit"
)

// Store is the port interface for audit persistence. Implementations return
// domain.ErrNotFound for runs with no audit trail.
type Store interface {
	// Save appends an audit record.
	Save(ctx context.Context, rec audit.Record) error

	// GetByRun returns the most recent audit record for a run.
	GetByRun(ctx context.Context, runID string) (audit.Record, error)

	// ListByRun returns all audit records for a run, oldest first. A
	// suspended run audited at suspension and again at resume has two.
	ListByRun(ctx context.Context, runID string) ([]audit.Record, error)
}
