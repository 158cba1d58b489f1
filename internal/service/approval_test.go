package service

import (
	"context"
	"errors"
	"testing"

	"github.com/opspilot-io/opspilot/internal/adapter/memory"
	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// suspendRun drives a high-risk workflow run to suspension and returns the
// services sharing its stores.
func suspendRun(t *testing.T) (*AgentService, *ApprovalService, string) {
	t.Helper()

	r := &fakeReasoner{
		classify: classifyAs(state.IntentWorkflow),
		analyze:  analyzeByPrompt(t, map[string]string{markerWorkflow: workflowHighRiskResponse}),
	}
	approvals := memory.NewApprovalStore()
	audits := memory.NewAuditStore()
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, approvals)

	agent := NewAgentService(pipelines, approvals, audits, nil, nil, nil, testOrchConfig())
	svc := NewApprovalService(approvals, audits, pipelines, nil, nil, nil)

	result, err := agent.Run(context.Background(), RunRequest{UserInput: "deploy to production"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != RunStatusPendingApproval {
		t.Fatalf("status = %q, want PENDING_APPROVAL", result.Status)
	}
	return agent, svc, result.RunID
}

func TestApproveResumesRun(t *testing.T) {
	_, svc, runID := suspendRun(t)

	result, err := svc.Approve(context.Background(), runID, "alice", "reviewed the plan")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if result.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", result.Status)
	}
	if len(result.ExecutionResults) != 1 || result.ExecutionResults[0].Status != "approval_granted" {
		t.Errorf("execution results = %v, want one approval_granted entry", result.ExecutionResults)
	}
	if _, ok := result.AnalysisResults["workflow"]; !ok {
		t.Error("resumed run should finalize its analysis results")
	}

	rec, err := svc.Status(context.Background(), runID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if rec.Status != approval.StatusApproved {
		t.Errorf("persisted status = %q, want approved", rec.Status)
	}
	if rec.ResolvedBy != "alice" || rec.ResolvedAt == nil {
		t.Error("resolution identity should be persisted")
	}
}

func TestRejectResumesRun(t *testing.T) {
	_, svc, runID := suspendRun(t)

	result, err := svc.Reject(context.Background(), runID, "bob", "too risky this week")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	if result.Status != approval.StatusRejected {
		t.Errorf("status = %q, want rejected", result.Status)
	}
	if len(result.ExecutionResults) != 1 || result.ExecutionResults[0].Status != "approval_rejected" {
		t.Errorf("execution results = %v, want one approval_rejected entry", result.ExecutionResults)
	}
}

func TestApproveUnknownRunReturnsNotFound(t *testing.T) {
	_, svc, _ := suspendRun(t)

	_, err := svc.Approve(context.Background(), "run_missing", "alice", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestApproveResolvedRunReturnsAlreadyResolved(t *testing.T) {
	_, svc, runID := suspendRun(t)

	if _, err := svc.Approve(context.Background(), runID, "alice", ""); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}

	before, err := svc.Status(context.Background(), runID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	_, err = svc.Reject(context.Background(), runID, "bob", "changed my mind")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("error = %v, want ErrAlreadyResolved", err)
	}

	after, err := svc.Status(context.Background(), runID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if after.ResolvedBy != before.ResolvedBy || !after.ResolvedAt.Equal(*before.ResolvedAt) {
		t.Error("a rejected decision attempt must not change the original resolution")
	}
}

func TestConcurrentDecisionsResolveExactlyOnce(t *testing.T) {
	_, svc, runID := suspendRun(t)

	start := make(chan struct{})
	errs := make(chan error, 2)
	go func() {
		<-start
		_, err := svc.Approve(context.Background(), runID, "alice", "")
		errs <- err
	}()
	go func() {
		<-start
		_, err := svc.Reject(context.Background(), runID, "bob", "")
		errs <- err
	}()
	close(start)

	var won, lost int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrAlreadyResolved):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won = %d, lost = %d, want exactly one of each", won, lost)
	}

	rec, err := svc.Status(context.Background(), runID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	switch rec.Status {
	case approval.StatusApproved:
		if rec.ResolvedBy != "alice" {
			t.Errorf("approved record resolved by %q, want alice", rec.ResolvedBy)
		}
	case approval.StatusRejected:
		if rec.ResolvedBy != "bob" {
			t.Errorf("rejected record resolved by %q, want bob", rec.ResolvedBy)
		}
	default:
		t.Errorf("status = %q, want a resolved status", rec.Status)
	}
}

func TestListPendingAfterResolution(t *testing.T) {
	agent, svc, runID := suspendRun(t)

	// A second suspended run from the same services.
	second, err := agent.Run(context.Background(), RunRequest{UserInput: "deploy to production again"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pending, err := svc.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if _, err := svc.Approve(context.Background(), runID, "alice", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	pending, err = svc.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].RunID != second.RunID {
		t.Errorf("pending = %v, want only the unresolved run", pending)
	}
}
