package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opspilot-io/opspilot/internal/adapter/otel"
	"github.com/opspilot-io/opspilot/internal/adapter/ws"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/audit"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/logger"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
	"github.com/opspilot-io/opspilot/internal/port/auditstore"
	"github.com/opspilot-io/opspilot/internal/port/broadcast"
	"github.com/opspilot-io/opspilot/internal/port/messagequeue"
)

// ResolveResult is the outcome of resuming a suspended run after an
// approval decision.
type ResolveResult struct {
	RunID            string                  `json:"run_id"`
	Status           approval.Status         `json:"status"`
	ResolvedBy       string                  `json:"resolved_by"`
	AnalysisResults  map[string]any          `json:"analysis_results,omitempty"`
	ExecutionResults []state.ExecutionResult `json:"execution_results,omitempty"`
	Audit            *audit.Record           `json:"audit,omitempty"`
}

// ApprovalService resolves pending approvals and resumes suspended runs.
type ApprovalService struct {
	approvals approvalstore.Store
	audits    auditstore.Store
	resume    *Pipelines
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
}

// NewApprovalService creates an ApprovalService. queue, hub, and metrics may
// be nil when the corresponding backend is disabled.
func NewApprovalService(
	approvals approvalstore.Store,
	audits auditstore.Store,
	pipelines *Pipelines,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
) *ApprovalService {
	return &ApprovalService{
		approvals: approvals,
		audits:    audits,
		resume:    pipelines,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
	}
}

// Approve resolves a pending run as approved and resumes it.
func (s *ApprovalService) Approve(ctx context.Context, runID, approver, note string) (ResolveResult, error) {
	return s.resolve(ctx, runID, approval.StatusApproved, approver, note)
}

// Reject resolves a pending run as rejected and resumes it. The rejected
// run still finalizes so its audit trail records the decision.
func (s *ApprovalService) Reject(ctx context.Context, runID, approver, note string) (ResolveResult, error) {
	return s.resolve(ctx, runID, approval.StatusRejected, approver, note)
}

// Status returns the approval record for a run.
func (s *ApprovalService) Status(ctx context.Context, runID string) (*approval.Pending, error) {
	return s.approvals.Get(ctx, runID)
}

// ListPending returns all unresolved approvals, oldest first.
func (s *ApprovalService) ListPending(ctx context.Context) ([]*approval.Pending, error) {
	return s.approvals.ListPending(ctx)
}

// resolve transitions the persisted record, then re-enters the run through
// the resume pipeline: the suspended snapshot is loaded, stamped with the
// decision, and finalized without re-running upstream analysis stages.
func (s *ApprovalService) resolve(ctx context.Context, runID string, to approval.Status, by, note string) (ResolveResult, error) {
	ctx = logger.WithRunID(ctx, runID)

	rec, err := s.approvals.Get(ctx, runID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("get approval for run %s: %w", runID, err)
	}

	if err := rec.Resolve(to, by, note, time.Now()); err != nil {
		return ResolveResult{}, err
	}
	// The store commits the transition only from pending, so a concurrent
	// decision that also passed the Get above loses here.
	if err := s.approvals.Resolve(ctx, rec); err != nil {
		return ResolveResult{}, fmt.Errorf("persist approval resolution for run %s: %w", runID, err)
	}

	slog.Info("approval resolved", "run_id", runID, "status", to, "resolved_by", by)
	if s.metrics != nil {
		s.metrics.ApprovalsResolved.Add(ctx, 1)
	}

	snapshot := rec.StateSnapshot.Apply(state.Update{
		ApprovalStatus: state.StatusPtr(state.ApprovalStatus(to)),
	})

	final, runErr := s.resume.Resume.Run(ctx, snapshot)
	if runErr != nil {
		slog.Error("resume pipeline failed", "run_id", runID, "error", runErr)
		final = final.Apply(state.Update{
			Errors: final.ErrorsWith("resume aborted: " + runErr.Error()),
		})
	}

	auditRec := audit.Build(final, rec, rec.CreatedAt, time.Now())
	result := ResolveResult{
		RunID:            runID,
		Status:           to,
		ResolvedBy:       by,
		AnalysisResults:  final.AnalysisResults,
		ExecutionResults: final.ExecutionResults,
		Audit:            &auditRec,
	}

	if err := s.audits.Save(ctx, auditRec); err != nil {
		slog.Error("persist resume audit record", "run_id", runID, "error", err)
		if result.AnalysisResults == nil {
			result.AnalysisResults = make(map[string]any, 1)
		}
		result.AnalysisResults["_audit_error"] = err.Error()
	}

	s.publishResolved(ctx, runID, to, by, note)
	return result, nil
}

func (s *ApprovalService) publishResolved(ctx context.Context, runID string, to approval.Status, by, note string) {
	if s.queue != nil {
		payload := messagequeue.ApprovalResolvedPayload{
			RunID:      runID,
			Status:     string(to),
			ResolvedBy: by,
			Note:       note,
		}
		if data, err := json.Marshal(payload); err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectApprovalResolved, data); err != nil {
				slog.Warn("publish approval resolution", "run_id", runID, "error", err)
			}
		}
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalResolved, ws.ApprovalResolvedEvent{
			RunID:      runID,
			Status:     string(to),
			ResolvedBy: by,
		})
	}
}
