package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/plan"
)

// ApprovalStore implements the approval store port on PostgreSQL. The state
// snapshot and action plan are stored as JSONB.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

// NewApprovalStore creates a postgres-backed approval store.
func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

// Save inserts or replaces the approval record for p.RunID.
func (s *ApprovalStore) Save(ctx context.Context, p *approval.Pending) error {
	snapshot, err := json.Marshal(p.StateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}
	planJSON, err := json.Marshal(orEmptySteps(p.ActionPlan))
	if err != nil {
		return fmt.Errorf("marshal action plan: %w", err)
	}
	reasons, err := json.Marshal(orEmptyStrings(p.ApprovalReasons))
	if err != nil {
		return fmt.Errorf("marshal approval reasons: %w", err)
	}

	const q = `INSERT INTO approvals
		(run_id, status, state_snapshot, action_plan, approval_reasons,
		 created_at, resolved_at, resolved_by, resolution_note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id) DO UPDATE SET
		 status = EXCLUDED.status,
		 state_snapshot = EXCLUDED.state_snapshot,
		 action_plan = EXCLUDED.action_plan,
		 approval_reasons = EXCLUDED.approval_reasons,
		 created_at = EXCLUDED.created_at,
		 resolved_at = EXCLUDED.resolved_at,
		 resolved_by = EXCLUDED.resolved_by,
		 resolution_note = EXCLUDED.resolution_note`
	_, err = s.pool.Exec(ctx, q,
		p.RunID, string(p.Status), snapshot, planJSON, reasons,
		p.CreatedAt, p.ResolvedAt, p.ResolvedBy, p.ResolutionNote,
	)
	if err != nil {
		return fmt.Errorf("save approval %s: %w", p.RunID, err)
	}
	return nil
}

// Get retrieves the approval record for runID.
func (s *ApprovalStore) Get(ctx context.Context, runID string) (*approval.Pending, error) {
	const q = `SELECT run_id, status, state_snapshot, action_plan, approval_reasons,
		created_at, resolved_at, resolved_by, resolution_note
		FROM approvals WHERE run_id = $1`

	p := &approval.Pending{}
	var status string
	var snapshot, planJSON, reasons []byte
	err := s.pool.QueryRow(ctx, q, runID).Scan(
		&p.RunID, &status, &snapshot, &planJSON, &reasons,
		&p.CreatedAt, &p.ResolvedAt, &p.ResolvedBy, &p.ResolutionNote,
	)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", runID)
	}

	p.Status = approval.Status(status)
	if err := json.Unmarshal(snapshot, &p.StateSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal state snapshot %s: %w", runID, err)
	}
	if err := json.Unmarshal(planJSON, &p.ActionPlan); err != nil {
		return nil, fmt.Errorf("unmarshal action plan %s: %w", runID, err)
	}
	if err := json.Unmarshal(reasons, &p.ApprovalReasons); err != nil {
		return nil, fmt.Errorf("unmarshal approval reasons %s: %w", runID, err)
	}
	return p, nil
}

// Resolve persists the resolution fields, guarded by a compare-and-set on
// the pending status so concurrent decisions cannot both commit.
func (s *ApprovalStore) Resolve(ctx context.Context, p *approval.Pending) error {
	const q = `UPDATE approvals SET
		 status = $2, resolved_at = $3, resolved_by = $4, resolution_note = $5
		WHERE run_id = $1 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, q,
		p.RunID, string(p.Status), p.ResolvedAt, p.ResolvedBy, p.ResolutionNote,
	)
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", p.RunID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	const check = `SELECT EXISTS (SELECT 1 FROM approvals WHERE run_id = $1)`
	if err := s.pool.QueryRow(ctx, check, p.RunID).Scan(&exists); err != nil {
		return fmt.Errorf("resolve approval %s: %w", p.RunID, err)
	}
	if !exists {
		return fmt.Errorf("resolve approval %s: %w", p.RunID, domain.ErrNotFound)
	}
	return fmt.Errorf("resolve approval %s: %w", p.RunID, domain.ErrAlreadyResolved)
}

// ListPending returns unresolved approvals, oldest first.
func (s *ApprovalStore) ListPending(ctx context.Context) ([]*approval.Pending, error) {
	const q = `SELECT run_id, status, state_snapshot, action_plan, approval_reasons,
		created_at, resolved_at, resolved_by, resolution_note
		FROM approvals WHERE status = 'pending' ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var result []*approval.Pending
	for rows.Next() {
		p := &approval.Pending{}
		var status string
		var snapshot, planJSON, reasons []byte
		if err := rows.Scan(
			&p.RunID, &status, &snapshot, &planJSON, &reasons,
			&p.CreatedAt, &p.ResolvedAt, &p.ResolvedBy, &p.ResolutionNote,
		); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		p.Status = approval.Status(status)
		if err := json.Unmarshal(snapshot, &p.StateSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal state snapshot %s: %w", p.RunID, err)
		}
		if err := json.Unmarshal(planJSON, &p.ActionPlan); err != nil {
			return nil, fmt.Errorf("unmarshal action plan %s: %w", p.RunID, err)
		}
		if err := json.Unmarshal(reasons, &p.ApprovalReasons); err != nil {
			return nil, fmt.Errorf("unmarshal approval reasons %s: %w", p.RunID, err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func orEmptySteps(steps []plan.Step) []plan.Step {
	if steps == nil {
		return []plan.Step{}
	}
	return steps
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
