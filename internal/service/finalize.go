package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
)

// finalizeStage aggregates whichever domain results are present into the
// analysis_results map. Mixed runs additionally get a pipe-joined
// integrated summary of all present results.
func finalizeStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		results := make(map[string]any, len(s.AnalysisResults)+4)
		for k, v := range s.AnalysisResults {
			results[k] = v
		}

		var summaries []string
		if s.ComplianceResult != nil {
			results["compliance"] = map[string]any{
				"status":          s.ComplianceResult.Status,
				"violations":      s.ComplianceResult.Violations,
				"recommendations": s.ComplianceResult.Recommendations,
				"summary":         s.ComplianceResult.Summary,
			}
			if s.ComplianceResult.Summary != "" {
				summaries = append(summaries, "[compliance] "+s.ComplianceResult.Summary)
			}
		}
		if s.RCAResult != nil {
			results["rca"] = map[string]any{
				"hypotheses": s.RCAResult.Hypotheses,
				"summary":    s.RCAResult.Summary,
			}
			if s.RCAResult.Summary != "" {
				summaries = append(summaries, "[rca] "+s.RCAResult.Summary)
			}
		}
		if s.WorkflowResult != nil {
			results["workflow"] = map[string]any{
				"action_plan":        s.WorkflowResult.ActionPlan,
				"approvals_required": s.WorkflowResult.ApprovalsRequired,
				"summary":            s.WorkflowResult.Summary,
			}
			if s.WorkflowResult.Summary != "" {
				summaries = append(summaries, "[workflow] "+s.WorkflowResult.Summary)
			}
		}

		if s.Intent == state.IntentMixed && len(summaries) > 0 {
			results["integrated_summary"] = strings.Join(summaries, " | ")
		}

		slog.Info("run finalized", "run_id", s.RunID, "results", len(results))
		return state.Update{
			AnalysisResults: results,
			Trace: s.TraceWith(stageFinalize, state.TraceEntry{
				"status": "success",
			}),
		}
	}
}
