package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/opspilot-io/opspilot/internal/adapter/otel"
	"github.com/opspilot-io/opspilot/internal/adapter/ws"
	"github.com/opspilot-io/opspilot/internal/config"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/audit"
	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/logger"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
	"github.com/opspilot-io/opspilot/internal/port/auditstore"
	"github.com/opspilot-io/opspilot/internal/port/broadcast"
	"github.com/opspilot-io/opspilot/internal/port/messagequeue"
)

// Run terminal statuses reported to callers.
const (
	RunStatusCompleted       = "COMPLETED"
	RunStatusPendingApproval = "PENDING_APPROVAL"
	RunStatusError           = "ERROR"
)

// NewRunID generates a run identifier.
func NewRunID() string {
	return "run_" + uuid.NewString()[:8]
}

// RunRequest is one analysis request.
type RunRequest struct {
	UserInput string         `json:"user_input"`
	Files     []state.File   `json:"files,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	RunID            string               `json:"run_id"`
	Status           string               `json:"status"`
	Intent           state.Intent         `json:"intent"`
	AnalysisResults  map[string]any       `json:"analysis_results,omitempty"`
	ActionPlan       []plan.Step          `json:"action_plan,omitempty"`
	ApprovalRequired bool                 `json:"approval_required"`
	ApprovalStatus   state.ApprovalStatus `json:"approval_status"`
	ApprovalReasons  []string             `json:"approval_reasons,omitempty"`
	Errors           []string             `json:"errors,omitempty"`
	Audit            *audit.Record        `json:"audit,omitempty"`
	DurationMS       int64                `json:"duration_ms"`
}

// AgentService executes analysis runs through the orchestrator pipeline and
// records their audit trail.
type AgentService struct {
	pipelines  *Pipelines
	approvals  approvalstore.Store
	audits     auditstore.Store
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	metrics    *otel.Metrics
	runTimeout time.Duration
	sem        *semaphore.Weighted
}

// NewAgentService creates an AgentService. queue, hub, and metrics may be
// nil when the corresponding backend is disabled.
func NewAgentService(
	pipelines *Pipelines,
	approvals approvalstore.Store,
	audits auditstore.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	orch config.Orchestrator,
) *AgentService {
	var sem *semaphore.Weighted
	if orch.MaxConcurrentRuns > 0 {
		sem = semaphore.NewWeighted(int64(orch.MaxConcurrentRuns))
	}
	return &AgentService{
		pipelines:  pipelines,
		approvals:  approvals,
		audits:     audits,
		queue:      queue,
		hub:        hub,
		metrics:    metrics,
		runTimeout: orch.RunTimeout,
		sem:        sem,
	}
}

// Run executes one request end to end: classify, analyze, gate, finalize
// or suspend, then audit. The returned error covers engine faults only;
// analysis failures surface through the result's errors.
func (a *AgentService) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	runID := NewRunID()
	started := time.Now()

	if a.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.runTimeout)
		defer cancel()
	}
	ctx = logger.WithRunID(ctx, runID)

	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return RunResult{RunID: runID, Status: RunStatusError}, fmt.Errorf("acquire run slot: %w", err)
		}
		defer a.sem.Release(1)
	}

	ctx, span := otel.StartRunSpan(ctx, runID, "")
	defer span.End()

	slog.Info("run started", "run_id", runID, "input_len", len(req.UserInput), "files", len(req.Files))
	if a.metrics != nil {
		a.metrics.RunsStarted.Add(ctx, 1)
	}
	a.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		RunID:     runID,
		UserInput: req.UserInput,
		StartedAt: started.UTC().Format(time.RFC3339),
	})

	initial := state.NewWithStart(runID, req.UserInput, req.Files, state.Context{Extra: req.Context}, started)

	final, runErr := a.pipelines.Orchestrator.Run(ctx, initial)
	if runErr != nil {
		slog.Error("run failed", "run_id", runID, "error", runErr)
		final = final.Apply(state.Update{
			Errors: final.ErrorsWith("run aborted: " + runErr.Error()),
		})
	}
	finished := time.Now()

	var pending *approval.Pending
	if final.ApprovalStatus == state.ApprovalPending {
		if rec, err := a.approvals.Get(ctx, runID); err == nil {
			pending = rec
		}
	}

	rec := audit.Build(final, pending, started, finished)
	result := RunResult{
		RunID:            runID,
		Status:           runStatus(final, runErr),
		Intent:           final.Intent,
		AnalysisResults:  final.AnalysisResults,
		ActionPlan:       final.ActionPlan,
		ApprovalRequired: final.ApprovalRequired,
		ApprovalStatus:   final.ApprovalStatus,
		ApprovalReasons:  approvalReasons(final),
		Errors:           final.Errors,
		Audit:            &rec,
		DurationMS:       finished.Sub(started).Milliseconds(),
	}

	// Audit persistence must never block the run from terminating.
	if err := a.audits.Save(ctx, rec); err != nil {
		slog.Error("persist audit record", "run_id", runID, "error", err)
		if result.AnalysisResults == nil {
			result.AnalysisResults = make(map[string]any, 1)
		}
		result.AnalysisResults["_audit_error"] = err.Error()
	}

	a.report(ctx, result, rec)
	return result, nil
}

// report publishes the terminal run events and updates metrics.
func (a *AgentService) report(ctx context.Context, result RunResult, rec audit.Record) {
	switch result.Status {
	case RunStatusPendingApproval:
		if a.metrics != nil {
			a.metrics.RunsSuspended.Add(ctx, 1)
		}
		a.publish(ctx, messagequeue.SubjectRunPendingApproval, messagequeue.RunPendingApprovalPayload{
			RunID:           result.RunID,
			Intent:          string(result.Intent),
			ApprovalReasons: result.ApprovalReasons,
			PlanSteps:       len(result.ActionPlan),
		})
		if a.hub != nil {
			a.hub.BroadcastEvent(ctx, ws.EventApprovalRequested, ws.ApprovalRequestedEvent{
				RunID:           result.RunID,
				ApprovalReasons: result.ApprovalReasons,
				PlanSteps:       len(result.ActionPlan),
			})
		}
	case RunStatusError:
		if a.metrics != nil {
			a.metrics.RunsFailed.Add(ctx, 1)
		}
		a.publish(ctx, messagequeue.SubjectRunFailed, messagequeue.RunCompletedPayload{
			RunID:        result.RunID,
			Intent:       string(result.Intent),
			ResultStatus: string(rec.ResultStatus),
			ErrorCount:   len(result.Errors),
			DurationMS:   result.DurationMS,
		})
	default:
		if a.metrics != nil {
			a.metrics.RunsCompleted.Add(ctx, 1)
		}
		a.publish(ctx, messagequeue.SubjectRunCompleted, messagequeue.RunCompletedPayload{
			RunID:        result.RunID,
			Intent:       string(result.Intent),
			ResultStatus: string(rec.ResultStatus),
			ErrorCount:   len(result.Errors),
			DurationMS:   result.DurationMS,
		})
	}

	if a.metrics != nil {
		a.metrics.RunDuration.Record(ctx, float64(result.DurationMS)/1000.0)
	}
	if a.hub != nil {
		a.hub.BroadcastEvent(ctx, ws.EventRunStatus, ws.RunStatusEvent{
			RunID:  result.RunID,
			Intent: string(result.Intent),
			Status: result.Status,
		})
	}
}

// publish sends a message to the queue when one is configured.
func (a *AgentService) publish(ctx context.Context, subject string, payload any) {
	if a.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := a.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish queue message", "subject", subject, "error", err)
	}
}

// runStatus derives the caller-facing terminal status.
func runStatus(final state.State, runErr error) string {
	switch {
	case runErr != nil:
		return RunStatusError
	case final.ApprovalStatus == state.ApprovalPending:
		return RunStatusPendingApproval
	default:
		return RunStatusCompleted
	}
}
