package state_test

import (
	"testing"
	"time"

	"github.com/opspilot-io/opspilot/internal/domain/plan"
	"github.com/opspilot-io/opspilot/internal/domain/state"
)

func TestParseIntent(t *testing.T) {
	cases := map[string]state.Intent{
		"compliance": state.IntentCompliance,
		"rca":        state.IntentRCA,
		"workflow":   state.IntentWorkflow,
		"mixed":      state.IntentMixed,
		"unknown":    state.IntentUnknown,
		"":           state.IntentUnknown,
		"COMPLIANCE": state.IntentUnknown,
		"garbage":    state.IntentUnknown,
	}
	for raw, want := range cases {
		if got := state.ParseIntent(raw); got != want {
			t.Errorf("ParseIntent(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	s := state.New("run-1", "why did the deploy fail", nil, state.Context{})
	if s.Intent != state.IntentUnknown {
		t.Fatalf("expected unknown intent, got %s", s.Intent)
	}
	if s.ApprovalStatus != state.ApprovalNotRequired {
		t.Fatalf("expected not_required, got %s", s.ApprovalStatus)
	}
	if s.ApprovalRequired {
		t.Fatal("approval_required must start false")
	}
}

func TestNewWithStart_StampsContext(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := state.NewWithStart("run-1", "", nil, state.Context{}, at)
	if s.Context.StartedAt != "2026-05-01T12:00:00Z" {
		t.Fatalf("unexpected started_at: %q", s.Context.StartedAt)
	}
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	s := state.New("run-1", "input", nil, state.Context{})
	s2 := s.Apply(state.Update{
		Errors: s.ErrorsWith("first failure"),
		Trace:  s.TraceWith("classify_intent", state.TraceEntry{"status": "error"}),
	})

	if len(s.Errors) != 0 || len(s.Trace) != 0 {
		t.Fatal("Apply mutated the prior record")
	}
	if len(s2.Errors) != 1 || s2.Errors[0] != "first failure" {
		t.Fatalf("unexpected errors: %v", s2.Errors)
	}
	if s2.Trace["classify_intent"].Status() != "error" {
		t.Fatalf("unexpected trace: %v", s2.Trace)
	}
}

func TestApply_FieldWiseReplacement(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{})
	s = s.Apply(state.Update{Intent: state.IntentPtr(state.IntentRCA)})
	if s.Intent != state.IntentRCA {
		t.Fatalf("intent not applied: %s", s.Intent)
	}

	// An empty update leaves everything as-is.
	s2 := s.Apply(state.Update{})
	if s2.Intent != state.IntentRCA || s2.RunID != "run-1" {
		t.Fatal("zero update changed the record")
	}
}

func TestApply_ApprovalRequiredMonotonic(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{})
	s = s.Apply(state.Update{ApprovalRequired: state.BoolPtr(true)})
	if !s.ApprovalRequired {
		t.Fatal("approval_required not set")
	}
	s = s.Apply(state.Update{ApprovalRequired: state.BoolPtr(false)})
	if !s.ApprovalRequired {
		t.Fatal("approval_required must not flip back to false")
	}
}

func TestErrorsWith_AppendOnly(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{})
	s = s.Apply(state.Update{Errors: s.ErrorsWith("a")})
	s = s.Apply(state.Update{Errors: s.ErrorsWith("b", "c")})
	if len(s.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", s.Errors)
	}
	if s.Errors[0] != "a" || s.Errors[2] != "c" {
		t.Fatalf("append order broken: %v", s.Errors)
	}
}

func TestTraceWith_PreservesOtherStages(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{})
	s = s.Apply(state.Update{Trace: s.TraceWith("retrieve_policies", state.TraceEntry{"status": "success", "count": 3})})
	s = s.Apply(state.Update{Trace: s.TraceWith("analyze_compliance", state.TraceEntry{"status": "success"})})

	if len(s.Trace) != 2 {
		t.Fatalf("expected 2 trace entries, got %v", s.Trace)
	}
	if s.Trace["retrieve_policies"].Status() != "success" {
		t.Fatal("earlier stage entry lost")
	}
}

func TestEvidenceWith_AppendOnly(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{})
	s = s.Apply(state.Update{Evidence: s.EvidenceWith(
		state.Evidence{Type: "policy", ID: "p-1", Score: 0.9},
	)})
	s = s.Apply(state.Update{Evidence: s.EvidenceWith(
		state.Evidence{Type: "incident", ID: "i-1", Score: 0.7},
	)})
	if len(s.Evidence) != 2 {
		t.Fatalf("expected 2 evidence items, got %d", len(s.Evidence))
	}
	if s.Evidence[0].ID != "p-1" || s.Evidence[1].ID != "i-1" {
		t.Fatalf("append order broken: %+v", s.Evidence)
	}
}

func TestClone_DeepCopiesCollections(t *testing.T) {
	s := state.New("run-1", "", nil, state.Context{Extra: map[string]any{"k": "v"}})
	s.ActionPlan = []plan.Step{{Step: 1, Title: "t", RiskLevel: plan.RiskLow}}
	s.Trace = map[string]state.TraceEntry{"finalize": {"status": "success"}}

	c := s.Clone()
	c.ActionPlan[0].Title = "changed"
	c.Trace["finalize"] = state.TraceEntry{"status": "error"}
	c.Context.Extra["k"] = "changed"

	if s.ActionPlan[0].Title != "t" {
		t.Fatal("action plan not deep-copied")
	}
	if s.Trace["finalize"].Status() != "success" {
		t.Fatal("trace not deep-copied")
	}
	if s.Context.Extra["k"] != "v" {
		t.Fatal("context extra not deep-copied")
	}
}

func TestUpdateIsZero(t *testing.T) {
	if !(state.Update{}).IsZero() {
		t.Fatal("empty update must be zero")
	}
	if (state.Update{Intent: state.IntentPtr(state.IntentMixed)}).IsZero() {
		t.Fatal("non-empty update must not be zero")
	}
}
