// Package approval defines the Pending Approval entity persisted when a run
// suspends for a human decision, and its resolution state machine.
package approval

import (
	"fmt"
	"time"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// Status of a persisted approval record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Pending is the snapshot written when a run suspends at the approval gate.
// At most one live record exists per run_id.
type Pending struct {
	RunID           string      `json:"run_id"`
	Status          Status      `json:"status"`
	StateSnapshot   state.State `json:"state_snapshot"`
	ActionPlan      []plan.Step `json:"action_plan"`
	ApprovalReasons []string    `json:"approval_reasons"`
	CreatedAt       time.Time   `json:"created_at"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy      string      `json:"resolved_by,omitempty"`
	ResolutionNote  string      `json:"resolution_note,omitempty"`
}

// NewPending creates a pending record for a suspended run.
func NewPending(runID string, snapshot state.State, actionPlan []plan.Step, reasons []string, now time.Time) *Pending {
	return &Pending{
		RunID:           runID,
		Status:          StatusPending,
		StateSnapshot:   snapshot.Clone(),
		ActionPlan:      append([]plan.Step(nil), actionPlan...),
		ApprovalReasons: append([]string(nil), reasons...),
		CreatedAt:       now.UTC(),
	}
}

// Resolve transitions a pending record to approved, rejected, or expired.
// Only a pending record may be resolved; anything else returns
// domain.ErrAlreadyResolved and leaves the record untouched.
func (p *Pending) Resolve(to Status, by, note string, now time.Time) error {
	switch to {
	case StatusApproved, StatusRejected, StatusExpired:
	default:
		return fmt.Errorf("invalid resolution status %q", to)
	}

	if p.Status != StatusPending {
		return fmt.Errorf("%w: run %s is %s", domain.ErrAlreadyResolved, p.RunID, p.Status)
	}

	at := now.UTC()
	p.Status = to
	p.ResolvedAt = &at
	p.ResolvedBy = by
	p.ResolutionNote = note
	return nil
}

// Clone returns a deep copy of the record.
func (p *Pending) Clone() *Pending {
	out := *p
	out.StateSnapshot = p.StateSnapshot.Clone()
	out.ActionPlan = append([]plan.Step(nil), p.ActionPlan...)
	out.ApprovalReasons = append([]string(nil), p.ApprovalReasons...)
	if p.ResolvedAt != nil {
		at := *p.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}
