// Package audit builds the per-run audit summary consumed by reviewers and
// external compliance tooling.
package audit

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// ResultStatus classifies the overall run outcome.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultPartial ResultStatus = "PARTIAL"
	ResultFailed  ResultStatus = "FAILED"
)

// maxEvidenceRefs bounds the evidence carried into the audit record.
const maxEvidenceRefs = 10

// ApprovalRecord is the audit view of one approval decision.
type ApprovalRecord struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Action is one planned or executed step recorded for audit.
type Action struct {
	Step      string `json:"step"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	RiskLevel string `json:"risk_level,omitempty"`
}

// TraceSummary condenses the stage trace to the milestones reviewers care
// about.
type TraceSummary struct {
	IntentClassified  bool     `json:"intent_classified"`
	SubgraphsExecuted []string `json:"subgraphs_executed"`
	ApprovalChecked   bool     `json:"approval_checked"`
	Finalized         bool     `json:"finalized"`
}

// Record is the complete audit summary for one run.
type Record struct {
	AuditID         string           `json:"audit_id"`
	RunID           string           `json:"run_id"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Intent          state.Intent     `json:"intent"`
	Summary         string           `json:"summary"`
	EvidenceRefs    []state.Evidence `json:"evidence_refs"`
	Approvals       []ApprovalRecord `json:"approvals"`
	ActionsExecuted []Action         `json:"actions_executed"`
	ResultStatus    ResultStatus     `json:"result_status"`
	AnalysisResults map[string]any   `json:"analysis_results,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
	TraceSummary    TraceSummary     `json:"trace_summary"`
}

// NewID generates an audit identifier.
func NewID() string {
	return "audit_" + uuid.NewString()[:8]
}

// Build assembles the audit record for a finished or suspended run. pending
// may be nil when the run never hit the approval gate.
func Build(s state.State, pending *approval.Pending, started, finished time.Time) Record {
	return Record{
		AuditID:         NewID(),
		RunID:           s.RunID,
		StartedAt:       started.UTC(),
		FinishedAt:      finished.UTC(),
		Intent:          s.Intent,
		Summary:         buildSummary(s),
		EvidenceRefs:    collectEvidence(s),
		Approvals:       collectApprovals(s, pending),
		ActionsExecuted: collectActions(s),
		ResultStatus:    resultStatus(s),
		AnalysisResults: s.AnalysisResults,
		Errors:          s.Errors,
		TraceSummary:    summarizeTrace(s),
	}
}

func buildSummary(s state.State) string {
	// Mixed runs already carry an integrated summary from finalize.
	if s.Intent == state.IntentMixed {
		if is, ok := integratedSummary(s); ok {
			return is
		}
	}

	var parts []string
	if s.ComplianceResult != nil && s.ComplianceResult.Summary != "" {
		parts = append(parts, "[compliance] "+s.ComplianceResult.Summary)
	}
	if s.RCAResult != nil && s.RCAResult.Summary != "" {
		parts = append(parts, "[rca] "+s.RCAResult.Summary)
	}
	if s.WorkflowResult != nil && s.WorkflowResult.Summary != "" {
		parts = append(parts, "[workflow] "+s.WorkflowResult.Summary)
	}
	if len(parts) == 0 {
		return string(s.Intent) + " request processed"
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += " | " + p
	}
	return out
}

func integratedSummary(s state.State) (string, bool) {
	v, ok := s.AnalysisResults["integrated_summary"]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok && str != ""
}

// collectEvidence gathers result-level and run-level evidence, de-duplicated
// by id, capped at maxEvidenceRefs.
func collectEvidence(s state.State) []state.Evidence {
	var all []state.Evidence
	if s.ComplianceResult != nil {
		all = append(all, s.ComplianceResult.Evidence...)
	}
	if s.RCAResult != nil {
		all = append(all, s.RCAResult.Evidence...)
	}
	all = append(all, s.Evidence...)

	seen := make(map[string]struct{}, len(all))
	out := make([]state.Evidence, 0, maxEvidenceRefs)
	for _, ev := range all {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
		if len(out) == maxEvidenceRefs {
			break
		}
	}
	return out
}

func collectApprovals(s state.State, pending *approval.Pending) []ApprovalRecord {
	if pending == nil {
		return nil
	}
	switch s.ApprovalStatus {
	case state.ApprovalPending, state.ApprovalApproved, state.ApprovalRejected, state.ApprovalExpired:
		return []ApprovalRecord{{
			RunID:      pending.RunID,
			Status:     string(pending.Status),
			ResolvedBy: pending.ResolvedBy,
			Note:       pending.ResolutionNote,
			CreatedAt:  pending.CreatedAt,
			ResolvedAt: pending.ResolvedAt,
		}}
	default:
		return nil
	}
}

func collectActions(s state.State) []Action {
	out := make([]Action, 0, len(s.ActionPlan)+len(s.ExecutionResults))
	for _, step := range s.ActionPlan {
		out = append(out, Action{
			Step:      strconv.Itoa(step.Step),
			Title:     step.Title,
			Status:    "planned",
			RiskLevel: string(step.RiskLevel),
		})
	}
	for _, er := range s.ExecutionResults {
		out = append(out, Action{
			Step:   er.Step,
			Title:  er.Message,
			Status: er.Status,
		})
	}
	return out
}

func resultStatus(s state.State) ResultStatus {
	hasResults := len(s.AnalysisResults) > 0 ||
		s.ComplianceResult != nil ||
		s.RCAResult != nil ||
		s.WorkflowResult != nil

	switch {
	case len(s.Errors) > 0 && !hasResults:
		return ResultFailed
	case len(s.Errors) > 0:
		return ResultPartial
	default:
		return ResultSuccess
	}
}

func summarizeTrace(s state.State) TraceSummary {
	ts := TraceSummary{
		IntentClassified: s.Trace["classify_intent"].Status() == "success",
		ApprovalChecked:  s.Trace["check_approval"].Status() == "success",
		Finalized:        s.Trace["finalize"].Status() == "success",
	}
	for _, key := range []string{"compliance_subgraph", "rca_subgraph", "workflow_subgraph", "mixed_summary"} {
		if _, ok := s.Trace[key]; ok {
			name := key
			switch key {
			case "compliance_subgraph":
				name = "compliance"
			case "rca_subgraph":
				name = "rca"
			case "workflow_subgraph":
				name = "workflow"
			case "mixed_summary":
				name = "mixed"
			}
			ts.SubgraphsExecuted = append(ts.SubgraphsExecuted, name)
		}
	}
	return ts
}
