// Package state defines the record threaded through every workflow stage of
// a run, and the partial-update protocol used to advance it. A State value
// is never mutated in place: stages produce an Update, and Apply derives the
// successor record from the previous one.
package state

import (
	"time"

	"github.com/opspilot-io/opspilot/internal/domain/plan"
)

// Intent is the classified purpose of a run.
type Intent string

const (
	IntentCompliance Intent = "compliance"
	IntentRCA        Intent = "rca"
	IntentWorkflow   Intent = "workflow"
	IntentMixed      Intent = "mixed"
	IntentUnknown    Intent = "unknown"
)

// ParseIntent coerces raw classifier output to a valid Intent.
// Anything outside the enum becomes IntentUnknown.
func ParseIntent(raw string) Intent {
	switch Intent(raw) {
	case IntentCompliance, IntentRCA, IntentWorkflow, IntentMixed:
		return Intent(raw)
	default:
		return IntentUnknown
	}
}

// ApprovalStatus tracks the human-decision state of a run.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalExpired     ApprovalStatus = "expired"
)

// File is an attachment supplied with the run request.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Evidence is one retrieved or attached reference chunk supporting an
// analysis conclusion. The evidence list on State is append-only; append
// order carries no relevance meaning, consumers re-sort by Score.
type Evidence struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TraceEntry records one stage's execution outcome. Every entry carries a
// "status" key plus stage-specific fields.
type TraceEntry map[string]any

// Status returns the entry's "status" value, or "" when absent.
func (e TraceEntry) Status() string {
	s, _ := e["status"].(string)
	return s
}

// LogInfo is what the RCA pipeline extracted from the raw input.
type LogInfo struct {
	RawInput         string `json:"raw_input"`
	HasErrorKeywords bool   `json:"has_error_keywords"`
	HasLogFormat     bool   `json:"has_log_format"`
}

// FileLog is log content lifted from an attachment.
type FileLog struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// RequestInfo is what the action-planning pipeline extracted from the input.
type RequestInfo struct {
	RawInput          string `json:"raw_input"`
	HasActionKeywords bool   `json:"has_action_keywords"`
	HasRiskKeywords   bool   `json:"has_risk_keywords"`
}

// ComplianceRef is the compact prior-compliance context handed to the
// action-planning pipeline.
type ComplianceRef struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// RCARef is the compact prior-RCA context handed to the action-planning
// pipeline.
type RCARef struct {
	HypothesisCount int    `json:"hypotheses_count"`
	Summary         string `json:"summary"`
}

// AnalysisContext carries prior domain-analysis findings into the
// action-planning pipeline.
type AnalysisContext struct {
	Compliance *ComplianceRef `json:"compliance,omitempty"`
	RCA        *RCARef        `json:"rca,omitempty"`
}

// Context is the scratch space shared between stages within one run.
// Each field is owned by the stage that writes it; Extra is a bounded
// passthrough for genuinely dynamic caller-supplied data.
type Context struct {
	StartedAt      string           `json:"started_at,omitempty"`
	LogInfo        *LogInfo         `json:"log_info,omitempty"`
	FileLogs       []FileLog        `json:"file_logs,omitempty"`
	RequestInfo    *RequestInfo     `json:"request_info,omitempty"`
	Analysis       *AnalysisContext `json:"analysis_context,omitempty"`
	RiskAssessment *plan.Assessment `json:"risk_assessment,omitempty"`
	Extra          map[string]any   `json:"extra,omitempty"`
}

// clone returns a deep copy of the context.
func (c Context) clone() Context {
	out := c
	if c.LogInfo != nil {
		v := *c.LogInfo
		out.LogInfo = &v
	}
	out.FileLogs = append([]FileLog(nil), c.FileLogs...)
	if c.RequestInfo != nil {
		v := *c.RequestInfo
		out.RequestInfo = &v
	}
	if c.Analysis != nil {
		v := *c.Analysis
		if c.Analysis.Compliance != nil {
			cr := *c.Analysis.Compliance
			v.Compliance = &cr
		}
		if c.Analysis.RCA != nil {
			rr := *c.Analysis.RCA
			v.RCA = &rr
		}
		out.Analysis = &v
	}
	if c.RiskAssessment != nil {
		v := *c.RiskAssessment
		v.HighRiskSteps = append([]string(nil), c.RiskAssessment.HighRiskSteps...)
		out.RiskAssessment = &v
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, val := range c.Extra {
			out.Extra[k] = val
		}
	}
	return out
}

// Violation is one detected breach of a policy rule.
type Violation struct {
	RuleName        string `json:"rule_name"`
	RuleContent     string `json:"rule_content,omitempty"`
	ViolationDetail string `json:"violation_detail"`
	Severity        string `json:"severity"`
}

// Compliance analysis verdicts.
const (
	ComplianceViolation          = "violation"
	ComplianceNoViolation        = "no_violation"
	CompliancePotentialViolation = "potential_violation"
)

// ComplianceResult is the complete output of the compliance pipeline.
type ComplianceResult struct {
	Status          string      `json:"status"`
	Violations      []Violation `json:"violations"`
	Recommendations []string    `json:"recommendations"`
	Evidence        []Evidence  `json:"evidence"`
	Summary         string      `json:"summary"`
}

// Hypothesis is one candidate root cause produced by the RCA pipeline.
type Hypothesis struct {
	Rank              int      `json:"rank"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Evidence          []string `json:"evidence"`
	Confidence        string   `json:"confidence"`
	VerificationSteps []string `json:"verification_steps"`
}

// RCAResult is the complete output of the root-cause-analysis pipeline.
type RCAResult struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
	Evidence   []Evidence   `json:"evidence"`
	Summary    string       `json:"summary"`
}

// WorkflowResult is the complete output of the action-planning pipeline.
type WorkflowResult struct {
	ActionPlan        []plan.Step `json:"action_plan"`
	ApprovalsRequired []string    `json:"approvals_required"`
	Summary           string      `json:"summary"`
}

// ExecutionResult records one post-approval execution event.
type ExecutionResult struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// State is the record threaded through every stage of a run. RunID,
// UserInput, and Files are immutable after creation. Evidence, Errors, and
// Trace are append-only across the run; the EvidenceWith/ErrorsWith/
// TraceWith helpers produce the accumulated collections a stage puts in
// its Update.
type State struct {
	RunID     string  `json:"run_id"`
	UserInput string  `json:"user_input,omitempty"`
	Files     []File  `json:"files,omitempty"`
	Context   Context `json:"context"`

	Intent Intent `json:"intent"`

	ComplianceResult *ComplianceResult `json:"compliance_result,omitempty"`
	RCAResult        *RCAResult        `json:"rca_result,omitempty"`
	WorkflowResult   *WorkflowResult   `json:"workflow_result,omitempty"`

	Evidence        []Evidence     `json:"evidence,omitempty"`
	AnalysisResults map[string]any `json:"analysis_results,omitempty"`
	ActionPlan      []plan.Step    `json:"action_plan,omitempty"`

	ApprovalRequired bool           `json:"approval_required"`
	ApprovalStatus   ApprovalStatus `json:"approval_status"`

	ExecutionResults []ExecutionResult `json:"execution_results,omitempty"`
	Errors           []string          `json:"errors,omitempty"`

	Trace map[string]TraceEntry `json:"trace,omitempty"`
}

// New creates the initial record for a run.
func New(runID, userInput string, files []File, ctx Context) State {
	return State{
		RunID:          runID,
		UserInput:      userInput,
		Files:          append([]File(nil), files...),
		Context:        ctx.clone(),
		Intent:         IntentUnknown,
		ApprovalStatus: ApprovalNotRequired,
	}
}

// NewWithStart creates the initial record and stamps the start time into
// the context.
func NewWithStart(runID, userInput string, files []File, ctx Context, startedAt time.Time) State {
	ctx.StartedAt = startedAt.UTC().Format(time.RFC3339)
	return New(runID, userInput, files, ctx)
}

// ErrorsWith returns a copy of the error list with msgs appended.
func (s State) ErrorsWith(msgs ...string) []string {
	out := make([]string, 0, len(s.Errors)+len(msgs))
	out = append(out, s.Errors...)
	return append(out, msgs...)
}

// TraceWith returns a copy of the trace map with entry recorded under
// stage. Existing entries for other stages are carried over untouched.
func (s State) TraceWith(stage string, entry TraceEntry) map[string]TraceEntry {
	out := make(map[string]TraceEntry, len(s.Trace)+1)
	for k, v := range s.Trace {
		out[k] = v
	}
	out[stage] = entry
	return out
}

// EvidenceWith returns a copy of the evidence list with items appended.
func (s State) EvidenceWith(items ...Evidence) []Evidence {
	out := make([]Evidence, 0, len(s.Evidence)+len(items))
	out = append(out, s.Evidence...)
	return append(out, items...)
}

// Clone returns a deep copy of the record.
func (s State) Clone() State {
	out := s
	out.Files = append([]File(nil), s.Files...)
	out.Context = s.Context.clone()
	if s.ComplianceResult != nil {
		v := *s.ComplianceResult
		v.Violations = append([]Violation(nil), s.ComplianceResult.Violations...)
		v.Recommendations = append([]string(nil), s.ComplianceResult.Recommendations...)
		v.Evidence = append([]Evidence(nil), s.ComplianceResult.Evidence...)
		out.ComplianceResult = &v
	}
	if s.RCAResult != nil {
		v := *s.RCAResult
		v.Hypotheses = append([]Hypothesis(nil), s.RCAResult.Hypotheses...)
		v.Evidence = append([]Evidence(nil), s.RCAResult.Evidence...)
		out.RCAResult = &v
	}
	if s.WorkflowResult != nil {
		v := *s.WorkflowResult
		v.ActionPlan = append([]plan.Step(nil), s.WorkflowResult.ActionPlan...)
		v.ApprovalsRequired = append([]string(nil), s.WorkflowResult.ApprovalsRequired...)
		out.WorkflowResult = &v
	}
	out.Evidence = append([]Evidence(nil), s.Evidence...)
	if s.AnalysisResults != nil {
		out.AnalysisResults = make(map[string]any, len(s.AnalysisResults))
		for k, v := range s.AnalysisResults {
			out.AnalysisResults[k] = v
		}
	}
	out.ActionPlan = append([]plan.Step(nil), s.ActionPlan...)
	out.ExecutionResults = append([]ExecutionResult(nil), s.ExecutionResults...)
	out.Errors = append([]string(nil), s.Errors...)
	if s.Trace != nil {
		out.Trace = make(map[string]TraceEntry, len(s.Trace))
		for k, v := range s.Trace {
			out.Trace[k] = v
		}
	}
	return out
}
