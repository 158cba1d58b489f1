package state

import "github.com/opspilot-io/opspilot/internal/domain/plan"

// Update is the sparse result of one stage: only non-nil fields are applied.
// Merge is field-wise replacement; the append-only semantics of Errors,
// Trace, and Evidence are the stage's responsibility. A stage includes the
// full accumulated collection built via the ErrorsWith/TraceWith/
// EvidenceWith helpers.
type Update struct {
	Intent  *Intent
	Context *Context

	ComplianceResult *ComplianceResult
	RCAResult        *RCAResult
	WorkflowResult   *WorkflowResult

	Evidence        []Evidence
	AnalysisResults map[string]any
	ActionPlan      []plan.Step

	ApprovalRequired *bool
	ApprovalStatus   *ApprovalStatus

	ExecutionResults []ExecutionResult
	Errors           []string
	Trace            map[string]TraceEntry
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.Intent == nil &&
		u.Context == nil &&
		u.ComplianceResult == nil &&
		u.RCAResult == nil &&
		u.WorkflowResult == nil &&
		u.Evidence == nil &&
		u.AnalysisResults == nil &&
		u.ActionPlan == nil &&
		u.ApprovalRequired == nil &&
		u.ApprovalStatus == nil &&
		u.ExecutionResults == nil &&
		u.Errors == nil &&
		u.Trace == nil
}

// Apply derives the successor record by replacing each field named in u.
// The receiver is never mutated. ApprovalRequired is monotonic: once true
// it cannot be reset to false by a later stage.
func (s State) Apply(u Update) State {
	out := s.Clone()

	if u.Intent != nil {
		out.Intent = *u.Intent
	}
	if u.Context != nil {
		out.Context = u.Context.clone()
	}
	if u.ComplianceResult != nil {
		out.ComplianceResult = u.ComplianceResult
	}
	if u.RCAResult != nil {
		out.RCAResult = u.RCAResult
	}
	if u.WorkflowResult != nil {
		out.WorkflowResult = u.WorkflowResult
	}
	if u.Evidence != nil {
		out.Evidence = append([]Evidence(nil), u.Evidence...)
	}
	if u.AnalysisResults != nil {
		out.AnalysisResults = make(map[string]any, len(u.AnalysisResults))
		for k, v := range u.AnalysisResults {
			out.AnalysisResults[k] = v
		}
	}
	if u.ActionPlan != nil {
		out.ActionPlan = append([]plan.Step(nil), u.ActionPlan...)
	}
	if u.ApprovalRequired != nil {
		out.ApprovalRequired = s.ApprovalRequired || *u.ApprovalRequired
	}
	if u.ApprovalStatus != nil {
		out.ApprovalStatus = *u.ApprovalStatus
	}
	if u.ExecutionResults != nil {
		out.ExecutionResults = append([]ExecutionResult(nil), u.ExecutionResults...)
	}
	if u.Errors != nil {
		out.Errors = append([]string(nil), u.Errors...)
	}
	if u.Trace != nil {
		out.Trace = make(map[string]TraceEntry, len(u.Trace))
		for k, v := range u.Trace {
			out.Trace[k] = v
		}
	}

	return out
}

// BoolPtr returns a pointer to b, for Update literals.
func BoolPtr(b bool) *bool { return &b }

// IntentPtr returns a pointer to i, for Update literals.
func IntentPtr(i Intent) *Intent { return &i }

// StatusPtr returns a pointer to st, for Update literals.
func StatusPtr(st ApprovalStatus) *ApprovalStatus { return &st }
