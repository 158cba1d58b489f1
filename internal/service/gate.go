package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
)

// approvalReasons computes the gate's reason list for a run: explicit
// reasons from the planning pipeline plus one per high-risk step flagged for
// approval, de-duplicated. Approval is required exactly when the list is
// non-empty.
func approvalReasons(s state.State) []string {
	var explicit []string
	if s.WorkflowResult != nil {
		explicit = s.WorkflowResult.ApprovalsRequired
	}
	return plan.ApprovalReasons(s.ActionPlan, explicit)
}

// checkApprovalStage evaluates whether the run needs a human decision before
// its plan may be acted on.
func checkApprovalStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		reasons := approvalReasons(s)
		required := len(reasons) > 0

		slog.Info("approval checked", "run_id", s.RunID, "required", required, "reasons", len(reasons))

		u := state.Update{
			Trace: s.TraceWith(stageCheckApproval, state.TraceEntry{
				"status":            "success",
				"approval_required": required,
				"reason_count":      len(reasons),
			}),
		}
		if required {
			u.ApprovalRequired = state.BoolPtr(true)
		}
		return u
	}
}

// routeAfterCheck sends the run to suspend when a decision is outstanding,
// and to finalize otherwise. An already-approved run (a resumed snapshot)
// never re-suspends.
func routeAfterCheck(_ context.Context, s state.State) string {
	if len(approvalReasons(s)) > 0 && s.ApprovalStatus != state.ApprovalApproved {
		return RouteSuspend
	}
	return RouteFinalize
}

// suspendStage persists the Pending Approval snapshot. Once the record is
// durable the run parks here and resolution re-enters through the resume
// pipeline; a failed save leaves the status unset so the router sends the
// run to finalize instead.
func suspendStage(store approvalstore.Store) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		reasons := approvalReasons(s)

		rec := approval.NewPending(s.RunID, s, s.ActionPlan, reasons, time.Now())
		if err := store.Save(ctx, rec); err != nil {
			slog.Error("persist pending approval", "run_id", s.RunID, "error", err)
			return state.Update{
				Errors: s.ErrorsWith("failed to persist pending approval: " + err.Error()),
				Trace: s.TraceWith(stageSuspend, state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		slog.Info("run suspended pending approval", "run_id", s.RunID, "reasons", len(reasons))
		return state.Update{
			ApprovalStatus: state.StatusPtr(state.ApprovalPending),
			Trace: s.TraceWith(stageSuspend, state.TraceEntry{
				"status":       "success",
				"reason_count": len(reasons),
			}),
		}
	}
}

// routeAfterSuspend parks the run only when the pending record was actually
// persisted. A failed save falls through to finalize, so the run terminates
// with its errors recorded instead of stranding in an unresumable state.
func routeAfterSuspend(_ context.Context, s state.State) string {
	if s.ApprovalStatus == state.ApprovalPending {
		return RouteEnd
	}
	return RouteFinalize
}

// resumeStage records the approval decision already applied to the snapshot
// as an execution event. It is the entry node of the resume pipeline; the
// caller sets ApprovalStatus before invoking it.
func resumeStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		var result state.ExecutionResult
		switch s.ApprovalStatus {
		case state.ApprovalApproved:
			result = state.ExecutionResult{
				Step:    "approval",
				Message: "Plan approved, execution may proceed",
				Status:  "approval_granted",
			}
		case state.ApprovalRejected:
			result = state.ExecutionResult{
				Step:    "approval",
				Message: "Plan rejected, no actions will be executed",
				Status:  "approval_rejected",
			}
		default:
			return state.Update{
				Errors: s.ErrorsWith("resume invoked without a resolution, status=" + string(s.ApprovalStatus)),
				Trace: s.TraceWith(stageResume, state.TraceEntry{
					"status": "error",
					"error":  "unresolved approval status",
				}),
			}
		}

		results := append(append([]state.ExecutionResult(nil), s.ExecutionResults...), result)
		return state.Update{
			ExecutionResults: results,
			Trace: s.TraceWith(stageResume, state.TraceEntry{
				"status":     "success",
				"resolution": string(s.ApprovalStatus),
			}),
		}
	}
}
