package approval_test

import (
	"errors"
	"testing"
	"time"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
)

func newPending(t *testing.T) *approval.Pending {
	t.Helper()
	s := state.New("run-1", "deploy to prod", nil, state.Context{})
	steps := []plan.Step{{Step: 1, Title: "Deploy to prod", RiskLevel: plan.RiskHigh, RequiresApproval: true}}
	reasons := []string{"High-risk step requires approval: Deploy to prod"}
	return approval.NewPending("run-1", s, steps, reasons, time.Now())
}

func TestNewPending(t *testing.T) {
	p := newPending(t)
	if p.Status != approval.StatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
	if p.ResolvedAt != nil || p.ResolvedBy != "" {
		t.Fatal("fresh record must not carry resolution info")
	}
	if len(p.ApprovalReasons) != 1 {
		t.Fatalf("expected 1 reason, got %v", p.ApprovalReasons)
	}
}

func TestResolve_Approve(t *testing.T) {
	p := newPending(t)
	if err := p.Resolve(approval.StatusApproved, "alice", "lgtm", time.Now()); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Status != approval.StatusApproved || p.ResolvedBy != "alice" || p.ResolvedAt == nil {
		t.Fatalf("resolution not recorded: %+v", p)
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	p := newPending(t)
	if err := p.Resolve(approval.StatusRejected, "alice", "", time.Now()); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	resolvedAt := *p.ResolvedAt

	err := p.Resolve(approval.StatusApproved, "bob", "", time.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if p.Status != approval.StatusRejected || p.ResolvedBy != "alice" || !p.ResolvedAt.Equal(resolvedAt) {
		t.Fatal("no-op decision must not change the record")
	}
}

func TestResolve_InvalidTarget(t *testing.T) {
	p := newPending(t)
	if err := p.Resolve(approval.StatusPending, "alice", "", time.Now()); err == nil {
		t.Fatal("expected error resolving to pending")
	}
}

func TestClone_Independent(t *testing.T) {
	p := newPending(t)
	c := p.Clone()
	c.ApprovalReasons[0] = "changed"
	c.ActionPlan[0].Title = "changed"
	if p.ApprovalReasons[0] == "changed" || p.ActionPlan[0].Title == "changed" {
		t.Fatal("clone shares backing arrays")
	}
}
