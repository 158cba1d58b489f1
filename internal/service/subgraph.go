package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
)

// extractor pulls a domain pipeline's results out of its final state into an
// outer-pipeline update. prior is the outer state before invocation; every
// extracted field falls back to prior when the pipeline left it untouched.
type extractor func(prior, final state.State) state.Update

// subPipelineStage wraps a compiled domain pipeline as one stage of the
// outer pipeline. A fault in the pipeline invocation itself is contained:
// the stage records it under its own name and the run continues.
func subPipelineStage(name string, p graph.Pipeline, extract extractor) graph.Stage {
	return func(ctx context.Context, s state.State) (u state.Update) {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("%s invocation panicked: %v", name, r)
				slog.Error("sub-pipeline panicked", "run_id", s.RunID, "stage", name, "panic", r)
				u = state.Update{
					Errors: s.ErrorsWith(msg),
					Trace: s.TraceWith(name, state.TraceEntry{
						"status": "error",
						"error":  msg,
					}),
				}
			}
		}()

		slog.Info("executing sub-pipeline", "run_id", s.RunID, "stage", name)

		final, err := p.Run(ctx, s)
		if err != nil {
			slog.Error("sub-pipeline failed", "run_id", s.RunID, "stage", name, "error", err)
			return state.Update{
				Errors: s.ErrorsWith(name + " execution failed: " + err.Error()),
				Trace: s.TraceWith(name, state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		return extract(s, final)
	}
}

// extractCompliance lifts the compliance pipeline's documented result fields.
func extractCompliance(prior, final state.State) state.Update {
	return state.Update{
		ComplianceResult: orCompliance(final.ComplianceResult, prior.ComplianceResult),
		Evidence:         orEvidence(final.Evidence, prior.Evidence),
		Errors:           orStrings(final.Errors, prior.Errors),
		Trace:            orTrace(final.Trace, prior.Trace),
	}
}

// extractRCA lifts the RCA pipeline's documented result fields.
func extractRCA(prior, final state.State) state.Update {
	ctx := final.Context
	return state.Update{
		RCAResult: orRCA(final.RCAResult, prior.RCAResult),
		Context:   &ctx,
		Evidence:  orEvidence(final.Evidence, prior.Evidence),
		Errors:    orStrings(final.Errors, prior.Errors),
		Trace:     orTrace(final.Trace, prior.Trace),
	}
}

// extractWorkflow lifts the action-planning pipeline's documented result
// fields, including the plan and the approval flag it raised.
func extractWorkflow(prior, final state.State) state.Update {
	ctx := final.Context
	u := state.Update{
		WorkflowResult: orWorkflow(final.WorkflowResult, prior.WorkflowResult),
		Context:        &ctx,
		Evidence:       orEvidence(final.Evidence, prior.Evidence),
		Errors:         orStrings(final.Errors, prior.Errors),
		Trace:          orTrace(final.Trace, prior.Trace),
	}
	if final.ActionPlan != nil {
		u.ActionPlan = final.ActionPlan
	} else {
		u.ActionPlan = prior.ActionPlan
	}
	u.ApprovalRequired = state.BoolPtr(final.ApprovalRequired)
	return u
}

func orCompliance(v, fallback *state.ComplianceResult) *state.ComplianceResult {
	if v != nil {
		return v
	}
	return fallback
}

func orRCA(v, fallback *state.RCAResult) *state.RCAResult {
	if v != nil {
		return v
	}
	return fallback
}

func orWorkflow(v, fallback *state.WorkflowResult) *state.WorkflowResult {
	if v != nil {
		return v
	}
	return fallback
}

func orEvidence(v, fallback []state.Evidence) []state.Evidence {
	if v != nil {
		return v
	}
	return fallback
}

func orStrings(v, fallback []string) []string {
	if v != nil {
		return v
	}
	return fallback
}

func orTrace(v, fallback map[string]state.TraceEntry) map[string]state.TraceEntry {
	if v != nil {
		return v
	}
	return fallback
}
