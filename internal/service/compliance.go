package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

const (
	topKPolicies    = 5
	maxFileExcerpt  = 2000
	policySeparator = "\n\n---\n\n"
)

const complianceSystemPrompt = `You are an expert in corporate policy and regulatory compliance analysis.

### Analysis principles
1. Every judgement must cite supporting evidence.
2. When uncertain, classify as "potential_violation".
3. For violations, provide concrete remediation recommendations.
4. When no supporting evidence exists, say so explicitly.

### Relevant policies
%s

### Output format (JSON only)
{
  "status": "violation" | "no_violation" | "potential_violation",
  "violations": [
    {
      "rule_name": "name of the violated rule",
      "rule_content": "rule text (abridged)",
      "violation_detail": "what violates it and how",
      "severity": "high" | "medium" | "low"
    }
  ],
  "recommendations": ["remediation recommendation"],
  "summary": "analysis summary (1-2 sentences)"
}

If no policies are relevant:
{
  "status": "no_violation",
  "violations": [],
  "recommendations": ["No relevant policy found. Contact the policy owner."],
  "summary": "No relevant policy found, unable to judge compliance."
}`

// buildCompliancePipeline compiles the policy-violation analysis pipeline:
// retrieve relevant policies, analyze the request against them, and fill in
// remediation recommendations when the analysis left none.
func buildCompliancePipeline(r reasoner.Reasoner, ret retriever.Retriever) (*graph.Graph, error) {
	return graph.New("compliance").
		AddNode("retrieve_policies", retrievePoliciesStage(ret)).
		AddNode("analyze_compliance", analyzeComplianceStage(r)).
		AddNode("generate_recommendation", generateRecommendationStage(r)).
		SetStart("retrieve_policies").
		AddEdge("retrieve_policies", "analyze_compliance").
		AddEdge("analyze_compliance", "generate_recommendation").
		AddEdge("generate_recommendation", graph.End).
		Compile()
}

func retrievePoliciesStage(ret retriever.Retriever) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		results, err := ret.Search(ctx, s.UserInput, retriever.CollectionPolicies, topKPolicies, nil)
		if err != nil {
			slog.Warn("policy retrieval failed", "run_id", s.RunID, "error", err)
			return state.Update{
				Errors: s.ErrorsWith("policy retrieval failed: " + err.Error()),
				Trace: s.TraceWith("retrieve_policies", state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		evidence := make([]state.Evidence, 0, len(results))
		for _, r := range results {
			evidence = append(evidence, state.Evidence{
				Type:     "policy",
				ID:       r.DocID,
				Content:  r.Text,
				Score:    r.Score,
				Metadata: r.Metadata,
			})
		}

		slog.Info("policies retrieved", "run_id", s.RunID, "count", len(evidence))
		return state.Update{
			Evidence: s.EvidenceWith(evidence...),
			Trace: s.TraceWith("retrieve_policies", state.TraceEntry{
				"status": "success",
				"count":  len(evidence),
			}),
		}
	}
}

func analyzeComplianceStage(r reasoner.Reasoner) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		policyEvidence := evidenceOfType(s.Evidence, "policy")

		policiesText := "No relevant policies found."
		if len(policyEvidence) > 0 {
			parts := make([]string, 0, len(policyEvidence))
			for _, e := range policyEvidence {
				parts = append(parts, "[policy: "+e.ID+"]\n"+e.Content)
			}
			policiesText = strings.Join(parts, policySeparator)
		}

		userMessage := s.UserInput
		if len(s.Files) > 0 {
			parts := make([]string, 0, len(s.Files))
			for _, f := range s.Files {
				parts = append(parts, "[attachment: "+f.Name+"]\n"+truncate(f.Content, maxFileExcerpt))
			}
			userMessage = s.UserInput + "\n\n### Attachments\n" + strings.Join(parts, "\n\n")
		}

		raw, err := r.Analyze(ctx, fmt.Sprintf(complianceSystemPrompt, policiesText), userMessage)
		if err != nil {
			slog.Error("compliance analysis failed", "run_id", s.RunID, "error", err)
			return state.Update{
				ComplianceResult: &state.ComplianceResult{
					Status:          state.CompliancePotentialViolation,
					Recommendations: []string{"Analysis failed. Contact the policy owner."},
					Evidence:        policyEvidence,
					Summary:         "Analysis failed: " + err.Error(),
				},
				Errors: s.ErrorsWith("compliance analysis failed: " + err.Error()),
				Trace: s.TraceWith("analyze_compliance", state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		var parsed struct {
			Status          string            `json:"status"`
			Violations      []state.Violation `json:"violations"`
			Recommendations []string          `json:"recommendations"`
			Summary         string            `json:"summary"`
		}
		if err := decodeModelJSON(raw, &parsed); err != nil {
			slog.Error("compliance response unparsable", "run_id", s.RunID, "error", err)
			return state.Update{
				ComplianceResult: &state.ComplianceResult{
					Status:          state.CompliancePotentialViolation,
					Recommendations: []string{"Analysis response could not be parsed. Contact the policy owner."},
					Evidence:        policyEvidence,
					Summary:         "Failed to parse analysis response",
				},
				Errors: s.ErrorsWith("compliance analysis parse failed: " + err.Error()),
				Trace: s.TraceWith("analyze_compliance", state.TraceEntry{
					"status": "parse_error",
					"error":  err.Error(),
				}),
			}
		}

		if parsed.Status == "" {
			parsed.Status = state.ComplianceNoViolation
		}
		result := &state.ComplianceResult{
			Status:          parsed.Status,
			Violations:      parsed.Violations,
			Recommendations: parsed.Recommendations,
			Evidence:        policyEvidence,
			Summary:         parsed.Summary,
		}

		slog.Info("compliance analyzed", "run_id", s.RunID, "status", result.Status, "violations", len(result.Violations))
		return state.Update{
			ComplianceResult: result,
			Trace: s.TraceWith("analyze_compliance", state.TraceEntry{
				"status":          "success",
				"result_status":   result.Status,
				"violation_count": len(result.Violations),
			}),
		}
	}
}

func generateRecommendationStage(r reasoner.Reasoner) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		result := s.ComplianceResult
		if result == nil {
			return state.Update{}
		}

		if result.Status == state.ComplianceNoViolation {
			return state.Update{
				Trace: s.TraceWith("generate_recommendation", state.TraceEntry{
					"status": "skipped",
					"reason": "no_violation",
				}),
			}
		}

		if len(result.Recommendations) > 0 {
			return state.Update{
				Trace: s.TraceWith("generate_recommendation", state.TraceEntry{
					"status": "already_exists",
				}),
			}
		}

		violationsText, _ := json.Marshal(result.Violations)
		raw, err := r.Analyze(ctx,
			"You are a compliance expert. Provide concrete remediation recommendations for the violations.",
			"Provide remediation recommendations for the following violations as a JSON array:\n\n"+
				string(violationsText)+"\n\nFormat: [\"recommendation 1\", \"recommendation 2\", ...]")
		if err != nil {
			slog.Warn("recommendation generation failed", "run_id", s.RunID, "error", err)
			return state.Update{
				Errors: s.ErrorsWith("recommendation generation failed: " + err.Error()),
				Trace: s.TraceWith("generate_recommendation", state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		var recommendations []string
		if err := decodeModelJSON(raw, &recommendations); err != nil {
			return state.Update{
				Errors: s.ErrorsWith("recommendation parse failed: " + err.Error()),
				Trace: s.TraceWith("generate_recommendation", state.TraceEntry{
					"status": "parse_error",
					"error":  err.Error(),
				}),
			}
		}

		updated := *result
		updated.Recommendations = recommendations
		return state.Update{
			ComplianceResult: &updated,
			Trace: s.TraceWith("generate_recommendation", state.TraceEntry{
				"status": "success",
				"count":  len(recommendations),
			}),
		}
	}
}

// evidenceOfType filters the accumulated evidence by type tag.
func evidenceOfType(evidence []state.Evidence, typ string) []state.Evidence {
	var out []state.Evidence
	for _, e := range evidence {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
