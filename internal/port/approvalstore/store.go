// Package approvalstore defines the port for persisting pending approvals.
package approvalstore

import (
	"context"

	"github.com/opspilot-io/opspilot/internal/domain/approval"
)

// Store is the port interface for approval persistence. Implementations
// return domain.ErrNotFound for unknown run IDs.
type Store interface {
	// Save persists a new pending approval keyed by run ID, replacing any
	// previous record for the same run.
	Save(ctx context.Context, p *approval.Pending) error

	// Get returns the approval record for a run.
	Get(ctx context.Context, runID string) (*approval.Pending, error)

	// Resolve persists the resolved form of an existing record, but only if
	// the stored record is still pending. A record another decision already
	// resolved returns domain.ErrAlreadyResolved unchanged, so concurrent
	// decisions on one run cannot both win.
	Resolve(ctx context.Context, p *approval.Pending) error

	// ListPending returns all unresolved approvals, oldest first.
	ListPending(ctx context.Context) ([]*approval.Pending, error)
}
