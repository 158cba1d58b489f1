package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

const topKSystemDocs = 5

const workflowSystemPrompt = `You are an expert IT operations planner.
You analyze requests and produce concrete, executable action plans.

### Planning principles
1. Every step must be clear and executable.
2. High-risk steps always require approval.
3. Name a rollback plan where one is needed.
4. Estimate the duration of each step.

### Risk classification
- high: production impact, data changes, possible service interruption. Approval mandatory.
- medium: limited impact, recoverable. Approval recommended.
- low: read-only or test environment. No approval needed.

### Reference documents
%s

### Prior analysis findings
%s

### Output format (JSON only)
{
  "action_plan": [
    {
      "step": 1,
      "title": "step title",
      "description": "detailed description",
      "risk_level": "high" | "medium" | "low",
      "requires_approval": true | false,
      "estimated_duration": "estimated duration",
      "rollback_plan": "rollback method (null if not needed)"
    }
  ],
  "total_steps": 3,
  "overall_risk": "high" | "medium" | "low",
  "approvals_required": ["titles of steps needing approval"],
  "summary": "overall plan summary (1-2 sentences)"
}`

// actionKeywords mark a request as asking for an operational change.
var actionKeywords = []string{"deploy", "execute", "configure", "create", "delete", "update"}

// riskKeywords mark a request as touching sensitive environments.
var riskKeywords = []string{"production", "live", "database"}

// highRiskApprovalNote is stamped onto plan steps that are both high-risk and
// flagged for approval.
const highRiskApprovalNote = "High-risk operation, approval is mandatory"

// buildWorkflowPipeline compiles the action-planning pipeline: analyze the
// request, retrieve system documentation, generate a plan, assess its risk,
// and finalize it.
func buildWorkflowPipeline(r reasoner.Reasoner, ret retriever.Retriever) (*graph.Graph, error) {
	return graph.New("workflow").
		AddNode("analyze_request", analyzeRequestStage()).
		AddNode("retrieve_system_docs", retrieveSystemDocsStage(ret)).
		AddNode("generate_action_plan", generateActionPlanStage(r)).
		AddNode("assess_risk", assessRiskStage()).
		AddNode("finalize_plan", finalizePlanStage()).
		SetStart("analyze_request").
		AddEdge("analyze_request", "retrieve_system_docs").
		AddEdge("retrieve_system_docs", "generate_action_plan").
		AddEdge("generate_action_plan", "assess_risk").
		AddEdge("assess_risk", "finalize_plan").
		AddEdge("finalize_plan", graph.End).
		Compile()
}

func analyzeRequestStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		lower := strings.ToLower(s.UserInput)

		info := &state.RequestInfo{
			RawInput:          s.UserInput,
			HasActionKeywords: containsAny(lower, actionKeywords),
			HasRiskKeywords:   containsAny(lower, riskKeywords),
		}

		analysis := &state.AnalysisContext{}
		if s.ComplianceResult != nil {
			analysis.Compliance = &state.ComplianceRef{
				Status:  s.ComplianceResult.Status,
				Summary: s.ComplianceResult.Summary,
			}
		}
		if s.RCAResult != nil {
			analysis.RCA = &state.RCARef{
				HypothesisCount: len(s.RCAResult.Hypotheses),
				Summary:         s.RCAResult.Summary,
			}
		}

		ctxOut := s.Context
		ctxOut.RequestInfo = info
		ctxOut.Analysis = analysis

		slog.Info("request analyzed", "run_id", s.RunID,
			"has_action_keywords", info.HasActionKeywords, "has_risk_keywords", info.HasRiskKeywords)
		return state.Update{
			Context: &ctxOut,
			Trace: s.TraceWith("analyze_request", state.TraceEntry{
				"status":              "success",
				"has_action_keywords": info.HasActionKeywords,
				"has_risk_keywords":   info.HasRiskKeywords,
			}),
		}
	}
}

func retrieveSystemDocsStage(ret retriever.Retriever) graph.Stage {
	return retrieveEvidenceStage("retrieve_system_docs", retriever.CollectionSystems, "system_doc", topKSystemDocs, ret)
}

func generateActionPlanStage(r reasoner.Reasoner) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		systemEvidence := evidenceOfType(s.Evidence, "system_doc")

		docsText := "No reference documents available."
		if len(systemEvidence) > 0 {
			docsText = joinEvidence("doc", systemEvidence)
		}

		analysisText := "No prior analysis results."
		if s.Context.Analysis != nil && (s.Context.Analysis.Compliance != nil || s.Context.Analysis.RCA != nil) {
			if data, err := json.MarshalIndent(s.Context.Analysis, "", "  "); err == nil {
				analysisText = string(data)
			}
		}

		userMessage := "Produce an action plan for the following request:\n\n" + s.UserInput

		raw, err := r.Analyze(ctx, fmt.Sprintf(workflowSystemPrompt, docsText, analysisText), userMessage)
		if err != nil {
			slog.Error("action plan generation failed", "run_id", s.RunID, "error", err)
			return state.Update{
				WorkflowResult: &state.WorkflowResult{
					Summary: "Action plan generation failed: " + err.Error(),
				},
				Errors: s.ErrorsWith("action plan generation failed: " + err.Error()),
				Trace: s.TraceWith("generate_action_plan", state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		var parsed struct {
			ActionPlan        []plan.Step    `json:"action_plan"`
			OverallRisk       plan.RiskLevel `json:"overall_risk"`
			ApprovalsRequired []string       `json:"approvals_required"`
			Summary           string         `json:"summary"`
		}
		if err := decodeModelJSON(raw, &parsed); err != nil {
			slog.Error("action plan unparsable", "run_id", s.RunID, "error", err)
			manualStep := plan.Step{
				Step:              1,
				Title:             "Manual review required",
				Description:       "Automated planning failed. An operator must review the request directly.",
				RiskLevel:         plan.RiskMedium,
				RequiresApproval:  true,
				EstimatedDuration: "unknown",
			}
			return state.Update{
				WorkflowResult: &state.WorkflowResult{
					ActionPlan:        []plan.Step{manualStep},
					ApprovalsRequired: []string{"Manual review required"},
					Summary:           "Automated planning failed, manual review required",
				},
				ActionPlan: []plan.Step{manualStep},
				Errors:     s.ErrorsWith("action plan parse failed: " + err.Error()),
				Trace: s.TraceWith("generate_action_plan", state.TraceEntry{
					"status": "parse_error",
					"error":  err.Error(),
				}),
			}
		}

		slog.Info("action plan generated", "run_id", s.RunID,
			"steps", len(parsed.ActionPlan), "overall_risk", parsed.OverallRisk)
		return state.Update{
			WorkflowResult: &state.WorkflowResult{
				ActionPlan:        parsed.ActionPlan,
				ApprovalsRequired: parsed.ApprovalsRequired,
				Summary:           parsed.Summary,
			},
			ActionPlan: parsed.ActionPlan,
			Trace: s.TraceWith("generate_action_plan", state.TraceEntry{
				"status":       "success",
				"step_count":   len(parsed.ActionPlan),
				"overall_risk": string(parsed.OverallRisk),
			}),
		}
	}
}

// assessRiskStage scores the generated plan as a whole and records the
// assessment in the run context. The outer approval flag is owned by the
// approval gate, which derives it from the plan's reasons.
func assessRiskStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		if s.WorkflowResult == nil {
			slog.Warn("no workflow result to assess", "run_id", s.RunID)
			return state.Update{}
		}

		assessment := plan.Assess(s.WorkflowResult.ActionPlan)

		ctxOut := s.Context
		ctxOut.RiskAssessment = &assessment

		slog.Info("risk assessed", "run_id", s.RunID,
			"overall_risk", assessment.OverallRisk, "high_risk_steps", len(assessment.HighRiskSteps))
		return state.Update{
			Context: &ctxOut,
			Trace: s.TraceWith("assess_risk", state.TraceEntry{
				"status":            "success",
				"overall_risk":      string(assessment.OverallRisk),
				"high_risk_count":   len(assessment.HighRiskSteps),
				"approval_required": assessment.ApprovalRequired,
			}),
		}
	}
}

// finalizePlanStage stamps the approval note onto high-risk approval steps.
func finalizePlanStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		result := s.WorkflowResult
		if result == nil {
			return state.Update{
				Trace: s.TraceWith("finalize_plan", state.TraceEntry{
					"status": "skipped",
					"reason": "no_workflow_result",
				}),
			}
		}

		steps := append([]plan.Step(nil), result.ActionPlan...)
		for i := range steps {
			if steps[i].RequiresApproval && steps[i].RiskLevel == plan.RiskHigh {
				steps[i].ApprovalNote = highRiskApprovalNote
			}
		}

		updated := *result
		updated.ActionPlan = steps
		return state.Update{
			WorkflowResult: &updated,
			ActionPlan:     steps,
			Trace: s.TraceWith("finalize_plan", state.TraceEntry{
				"status":           "success",
				"final_step_count": len(steps),
			}),
		}
	}
}
