package messagequeue

// RunStartedPayload is the schema for runs.started messages.
type RunStartedPayload struct {
	RunID     string `json:"run_id"`
	Intent    string `json:"intent,omitempty"`
	UserInput string `json:"user_input"`
	StartedAt string `json:"started_at"`
}

// RunPendingApprovalPayload is the schema for runs.pending_approval messages.
type RunPendingApprovalPayload struct {
	RunID           string   `json:"run_id"`
	Intent          string   `json:"intent"`
	ApprovalReasons []string `json:"approval_reasons"`
	PlanSteps       int      `json:"plan_steps"`
}

// RunCompletedPayload is the schema for runs.completed and runs.failed
// messages.
type RunCompletedPayload struct {
	RunID        string `json:"run_id"`
	Intent       string `json:"intent"`
	ResultStatus string `json:"result_status"`
	ErrorCount   int    `json:"error_count"`
	DurationMS   int64  `json:"duration_ms"`
}

// ApprovalResolvedPayload is the schema for approvals.resolved messages.
type ApprovalResolvedPayload struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note,omitempty"`
}
