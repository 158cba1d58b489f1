package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
)

// Mixed phase names, in default execution order.
const (
	PhaseCompliance = "compliance"
	PhaseRCA        = "rca"
	PhaseWorkflow   = "workflow"
)

// mixedStage runs the configured domain pipelines in sequence for a mixed
// intent, threading context and evidence from each phase into the next. The
// action-planning phase additionally sees the compliance and RCA results
// accumulated so far. Each phase has independent failure containment: a
// failed phase records an error under trace["mixed_<phase>"] and the
// remaining phases still run with whatever had accumulated.
func mixedStage(phases []string, compliance, rca, workflow graph.Pipeline) graph.Stage {
	byName := map[string]graph.Pipeline{
		PhaseCompliance: compliance,
		PhaseRCA:        rca,
		PhaseWorkflow:   workflow,
	}

	return func(ctx context.Context, s state.State) state.Update {
		cur := s

		for _, phase := range phases {
			p, ok := byName[phase]
			if !ok || p == nil {
				cur = cur.Apply(state.Update{
					Errors: cur.ErrorsWith("unknown mixed phase: " + phase),
					Trace: cur.TraceWith("mixed_"+phase, state.TraceEntry{
						"status": "error",
						"error":  "unknown phase",
					}),
				})
				continue
			}

			slog.Info("executing mixed phase", "run_id", s.RunID, "phase", phase)

			final, err := runPhase(ctx, p, cur)
			if err != nil {
				slog.Error("mixed phase failed", "run_id", s.RunID, "phase", phase, "error", err)
				// The engine hands back the last good snapshot; keep
				// whatever context and evidence the phase accumulated
				// before it faulted.
				if final.RunID == "" {
					final = cur
				}
				cur = final.Apply(state.Update{
					Errors: final.ErrorsWith(phase + " phase failed: " + err.Error()),
					Trace: final.TraceWith("mixed_"+phase, state.TraceEntry{
						"status": "error",
						"error":  err.Error(),
					}),
				})
				continue
			}

			cur = final.Apply(state.Update{
				Trace: final.TraceWith("mixed_"+phase, state.TraceEntry{
					"status": "success",
				}),
			})
		}

		executed := 0
		if cur.ComplianceResult != nil {
			executed++
		}
		if cur.RCAResult != nil {
			executed++
		}
		if cur.WorkflowResult != nil {
			executed++
		}

		status := "partial"
		if executed > 0 {
			status = "success"
		}

		slog.Info("mixed sequencing done", "run_id", s.RunID, "executed_subgraphs", executed, "status", status)

		ctxOut := cur.Context
		return state.Update{
			Context:          &ctxOut,
			ComplianceResult: cur.ComplianceResult,
			RCAResult:        cur.RCAResult,
			WorkflowResult:   cur.WorkflowResult,
			Evidence:         cur.Evidence,
			ActionPlan:       cur.ActionPlan,
			ApprovalRequired: state.BoolPtr(cur.ApprovalRequired),
			Errors:           cur.Errors,
			Trace: cur.TraceWith("mixed_summary", state.TraceEntry{
				"status":             status,
				"executed_subgraphs": executed,
			}),
		}
	}
}

// runPhase invokes one domain pipeline with panic containment.
func runPhase(ctx context.Context, p graph.Pipeline, s state.State) (final state.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s pipeline panicked: %v", p.Name(), r)
		}
	}()
	return p.Run(ctx, s)
}
