package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opspilot-io/opspilot/internal/adapter/memory"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

func buildTestPipelines(t *testing.T, r reasoner.Reasoner, ret retriever.Retriever, approvals approvalstore.Store) *Pipelines {
	t.Helper()
	pipelines, err := BuildPipelines(PipelineDeps{
		Reasoner:  r,
		Retriever: ret,
		Approvals: approvals,
		Orch:      testOrchConfig(),
	})
	if err != nil {
		t.Fatalf("BuildPipelines() error = %v", err)
	}
	return pipelines
}

func TestOrchestratorComplianceRun(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentCompliance),
		analyze:  analyzeByPrompt(t, map[string]string{markerCompliance: complianceResponse}),
	}
	ret := &fakeRetriever{results: map[string][]retriever.Result{
		retriever.CollectionPolicies: {
			{DocID: "policy-1", Text: "Logs must be purged after 90 days", Score: 0.92},
		},
	}}
	approvals := memory.NewApprovalStore()
	pipelines := buildTestPipelines(t, r, ret, approvals)

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_c1", "Are we keeping logs too long?", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.Intent != state.IntentCompliance {
		t.Errorf("intent = %q, want compliance", final.Intent)
	}
	if final.ComplianceResult == nil {
		t.Fatal("compliance result missing")
	}
	if final.ComplianceResult.Status != state.ComplianceViolation {
		t.Errorf("status = %q, want violation", final.ComplianceResult.Status)
	}
	if _, ok := final.AnalysisResults["compliance"]; !ok {
		t.Error("analysis_results missing compliance entry")
	}
	if len(final.Evidence) != 1 || final.Evidence[0].Type != "policy" {
		t.Errorf("evidence = %+v, want one policy chunk", final.Evidence)
	}

	for _, stage := range []string{"classify_intent", "retrieve_policies", "analyze_compliance", "check_approval", "finalize"} {
		if final.Trace[stage].Status() == "" {
			t.Errorf("trace missing %s entry", stage)
		}
	}
	if final.ApprovalStatus != state.ApprovalNotRequired {
		t.Errorf("approval_status = %q, want not_required", final.ApprovalStatus)
	}
}

func TestOrchestratorUnknownIntentRoutesToFinalize(t *testing.T) {
	r := &fakeReasoner{classify: classifyAs(state.IntentUnknown)}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, memory.NewApprovalStore())

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_u1", "hello there", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.Trace["finalize"].Status() != "success" {
		t.Error("unknown intent should still finalize")
	}
	if final.ComplianceResult != nil || final.RCAResult != nil || final.WorkflowResult != nil {
		t.Error("no domain pipeline should have run")
	}
}

func TestOrchestratorClassificationFailureDegradesToUnknown(t *testing.T) {
	r := &fakeReasoner{
		classify: func(context.Context, string, []string) (reasoner.Classification, error) {
			return reasoner.Classification{}, errors.New("model unavailable")
		},
	}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, memory.NewApprovalStore())

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_u2", "anything", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.Intent != state.IntentUnknown {
		t.Errorf("intent = %q, want unknown", final.Intent)
	}
	if len(final.Errors) == 0 {
		t.Error("classification failure should be recorded in errors")
	}
	if final.Trace["classify_intent"].Status() != "error" {
		t.Errorf("classify_intent trace = %q, want error", final.Trace["classify_intent"].Status())
	}
	if final.Trace["finalize"].Status() != "success" {
		t.Error("run should still reach finalize")
	}
}

func TestOrchestratorHighRiskPlanSuspends(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentWorkflow),
		analyze:  analyzeByPrompt(t, map[string]string{markerWorkflow: workflowHighRiskResponse}),
	}
	approvals := memory.NewApprovalStore()
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, approvals)

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_w1", "deploy the new release to production", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !final.ApprovalRequired {
		t.Error("approval_required should be true")
	}
	if final.ApprovalStatus != state.ApprovalPending {
		t.Errorf("approval_status = %q, want pending", final.ApprovalStatus)
	}
	if final.Trace["suspend"].Status() != "success" {
		t.Errorf("suspend trace = %q, want success", final.Trace["suspend"].Status())
	}
	if _, ok := final.Trace["finalize"]; ok {
		t.Error("suspended run must not finalize")
	}

	rec, err := approvals.Get(context.Background(), "run_w1")
	if err != nil {
		t.Fatalf("pending approval not persisted: %v", err)
	}
	if len(rec.ApprovalReasons) != 1 {
		t.Fatalf("reasons = %v, want exactly one", rec.ApprovalReasons)
	}
	if !strings.Contains(rec.ApprovalReasons[0], "Deploy to prod") {
		t.Errorf("reason = %q, want reference to the high-risk step", rec.ApprovalReasons[0])
	}
	if len(rec.ActionPlan) != 1 {
		t.Errorf("persisted plan has %d steps, want 1", len(rec.ActionPlan))
	}
	if rec.ActionPlan[0].ApprovalNote == "" {
		t.Error("high-risk approval step should carry the approval note")
	}
}

func TestOrchestratorLowRiskPlanFinalizes(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentWorkflow),
		analyze:  analyzeByPrompt(t, map[string]string{markerWorkflow: workflowLowRiskResponse}),
	}
	approvals := memory.NewApprovalStore()
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, approvals)

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_w2", "check the health of the api service", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.ApprovalRequired {
		t.Error("low-risk plan should not require approval")
	}
	if final.Trace["finalize"].Status() != "success" {
		t.Error("low-risk run should finalize")
	}
	if _, err := approvals.Get(context.Background(), "run_w2"); err == nil {
		t.Error("no pending approval should be persisted")
	}
}

func TestOrchestratorMediumRiskPlanFinalizesWithoutApproval(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentWorkflow),
		analyze:  analyzeByPrompt(t, map[string]string{markerWorkflow: workflowMediumRiskResponse}),
	}
	approvals := memory.NewApprovalStore()
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, approvals)

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_w3", "scale the workers and restart the scheduler", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// A medium-risk plan with no approval-gated steps carries no reasons,
	// so the gate must not flag the run.
	if final.ApprovalRequired {
		t.Error("plan without approval reasons should not require approval")
	}
	if final.ApprovalStatus == state.ApprovalPending {
		t.Error("run should not suspend")
	}
	if final.Trace["finalize"].Status() != "success" {
		t.Error("run should finalize")
	}
	if final.WorkflowResult == nil || final.WorkflowResult.OverallRisk != "medium" {
		t.Fatal("workflow result should keep the plan's overall risk")
	}
	if _, err := approvals.Get(context.Background(), "run_w3"); err == nil {
		t.Error("no pending approval should be persisted")
	}
}

// failingApprovalStore rejects every save of a pending record.
type failingApprovalStore struct {
	*memory.ApprovalStore
}

func (s *failingApprovalStore) Save(context.Context, *approval.Pending) error {
	return errors.New("approval backend down")
}

func TestOrchestratorSuspendSaveFailureFinalizes(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentWorkflow),
		analyze:  analyzeByPrompt(t, map[string]string{markerWorkflow: workflowHighRiskResponse}),
	}
	approvals := &failingApprovalStore{ApprovalStore: memory.NewApprovalStore()}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, approvals)

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_w4", "deploy the new release to production", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v, store failure must not abort the run", err)
	}

	// With no durable pending record the run cannot be resumed later, so it
	// must terminate through finalize with the failure recorded.
	if final.ApprovalStatus == state.ApprovalPending {
		t.Error("run must not report pending without a persisted record")
	}
	if final.Trace["suspend"].Status() != "error" {
		t.Errorf("suspend trace = %q, want error", final.Trace["suspend"].Status())
	}
	if final.Trace["finalize"].Status() != "success" {
		t.Error("run should fall through to finalize")
	}
	if _, ok := final.AnalysisResults["workflow"]; !ok {
		t.Error("finalize should still aggregate the workflow analysis")
	}

	var recorded bool
	for _, e := range final.Errors {
		if strings.Contains(e, "persist pending approval") {
			recorded = true
		}
	}
	if !recorded {
		t.Errorf("errors = %v, want the save failure recorded", final.Errors)
	}
}

func TestOrchestratorRCARun(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentRCA),
		analyze:  analyzeByPrompt(t, map[string]string{markerRCA: rcaResponse}),
	}
	ret := &fakeRetriever{results: map[string][]retriever.Result{
		retriever.CollectionIncidents: {{DocID: "inc-42", Text: "similar outage last march", Score: 0.8}},
		retriever.CollectionSystems:   {{DocID: "sys-db", Text: "primary/replica postgres", Score: 0.7}},
	}}
	pipelines := buildTestPipelines(t, r, ret, memory.NewApprovalStore())

	files := []state.File{{Name: "app.log", Content: "ERROR connection refused"}}
	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_r1", "service is failing with database errors", files, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.RCAResult == nil {
		t.Fatal("rca result missing")
	}
	if got := final.RCAResult.Hypotheses[0].Title; got != "Database failover" {
		t.Errorf("top hypothesis = %q, want rank-1 entry first", got)
	}
	if final.Context.LogInfo == nil || !final.Context.LogInfo.HasErrorKeywords {
		t.Error("log info should flag error keywords")
	}
	if len(final.Context.FileLogs) != 1 {
		t.Errorf("file logs = %d, want 1 extracted .log attachment", len(final.Context.FileLogs))
	}
	if _, ok := final.AnalysisResults["rca"]; !ok {
		t.Error("analysis_results missing rca entry")
	}
}

func TestMixedRunWithRCAFailureIsIsolated(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentMixed),
		analyze: func(_ context.Context, system, _ string) (string, error) {
			switch {
			case strings.Contains(system, markerCompliance):
				return complianceResponse, nil
			case strings.Contains(system, markerRCA):
				return "", errors.New("rca model timeout")
			case strings.Contains(system, markerWorkflow):
				return workflowLowRiskResponse, nil
			}
			return "", errors.New("unexpected prompt")
		},
	}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, memory.NewApprovalStore())

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_m1", "audit the outage and plan the fix", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The RCA phase degrades internally, so the phase itself still reports
	// success while the failure is recorded by the generate stage.
	if final.Trace["mixed_compliance"].Status() != "success" {
		t.Errorf("mixed_compliance = %q, want success", final.Trace["mixed_compliance"].Status())
	}
	if final.Trace["mixed_workflow"].Status() != "success" {
		t.Errorf("mixed_workflow = %q, want success", final.Trace["mixed_workflow"].Status())
	}
	if final.Trace["generate_hypotheses"].Status() != "error" {
		t.Errorf("generate_hypotheses = %q, want error", final.Trace["generate_hypotheses"].Status())
	}
	if len(final.Errors) == 0 {
		t.Error("rca failure should be recorded in errors")
	}

	if final.ComplianceResult == nil || final.WorkflowResult == nil {
		t.Error("compliance and workflow phases should still produce results")
	}
	if _, ok := final.AnalysisResults["compliance"]; !ok {
		t.Error("analysis_results missing compliance entry")
	}
	if _, ok := final.AnalysisResults["workflow"]; !ok {
		t.Error("analysis_results missing workflow entry")
	}

	is, ok := final.AnalysisResults["integrated_summary"].(string)
	if !ok || is == "" {
		t.Fatal("mixed run should carry an integrated summary")
	}
	if !strings.Contains(is, " | ") {
		t.Errorf("integrated summary %q should join sections with a pipe", is)
	}

	summary := final.Trace["mixed_summary"]
	if summary.Status() != "success" {
		t.Errorf("mixed_summary status = %q, want success", summary.Status())
	}
}

func TestMixedRunPhaseFaultIsContained(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentMixed),
		analyze: func(_ context.Context, system, _ string) (string, error) {
			switch {
			case strings.Contains(system, markerCompliance):
				return complianceResponse, nil
			case strings.Contains(system, markerRCA):
				panic("rca client corrupted")
			case strings.Contains(system, markerWorkflow):
				return workflowLowRiskResponse, nil
			}
			return "", errors.New("unexpected prompt")
		},
	}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, memory.NewApprovalStore())

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_m3", "audit the outage and plan the fix", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.Trace["mixed_rca"].Status() != "error" {
		t.Errorf("mixed_rca = %q, want error", final.Trace["mixed_rca"].Status())
	}
	if final.Trace["mixed_compliance"].Status() != "success" {
		t.Errorf("mixed_compliance = %q, want success", final.Trace["mixed_compliance"].Status())
	}
	if final.Trace["mixed_workflow"].Status() != "success" {
		t.Errorf("mixed_workflow = %q, want success", final.Trace["mixed_workflow"].Status())
	}

	if final.RCAResult != nil {
		t.Error("faulted phase should not leave a result")
	}
	if _, ok := final.AnalysisResults["rca"]; ok {
		t.Error("analysis_results should not contain rca")
	}
	if final.ComplianceResult == nil || final.WorkflowResult == nil {
		t.Error("surviving phases should still produce results")
	}
	if len(final.Errors) == 0 {
		t.Error("phase fault should be recorded in errors")
	}
}

func TestMixedRunFeedsPriorFindingsIntoPlanning(t *testing.T) {
	var workflowSystemSeen string
	r := &fakeReasoner{
		classify: classifyAs(state.IntentMixed),
		analyze: func(_ context.Context, system, _ string) (string, error) {
			switch {
			case strings.Contains(system, markerCompliance):
				return complianceResponse, nil
			case strings.Contains(system, markerRCA):
				return rcaResponse, nil
			case strings.Contains(system, markerWorkflow):
				workflowSystemSeen = system
				return workflowLowRiskResponse, nil
			}
			return "", errors.New("unexpected prompt")
		},
	}
	pipelines := buildTestPipelines(t, r, &fakeRetriever{}, memory.NewApprovalStore())

	final, err := pipelines.Orchestrator.Run(context.Background(),
		state.New("run_m2", "review the incident and prepare remediation", nil, state.Context{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(workflowSystemSeen, "Retention policy violated") {
		t.Error("planning prompt should include the compliance summary")
	}
	if !strings.Contains(workflowSystemSeen, "Database failover") {
		t.Error("planning prompt should include the rca summary")
	}
	if final.Context.Analysis == nil || final.Context.Analysis.Compliance == nil || final.Context.Analysis.RCA == nil {
		t.Error("analysis context should carry both prior findings")
	}
}

func TestRunStateIsAppendOnly(t *testing.T) {
	r := &fakeReasoner{
		classify: classifyAs(state.IntentCompliance),
		analyze:  analyzeByPrompt(t, map[string]string{markerCompliance: "not json at all"}),
	}
	ret := &fakeRetriever{err: errors.New("knowledge service down")}
	pipelines := buildTestPipelines(t, r, ret, memory.NewApprovalStore())

	initial := state.New("run_a1", "check retention", nil, state.Context{})
	final, err := pipelines.Orchestrator.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Retrieval failed and the analysis response was unparsable: both must
	// appear, in order, without clearing earlier entries.
	if len(final.Errors) < 2 {
		t.Fatalf("errors = %v, want at least retrieval and parse failures", final.Errors)
	}
	if !strings.Contains(final.Errors[0], "retrieval failed") {
		t.Errorf("first error = %q, want the retrieval failure", final.Errors[0])
	}

	if final.ComplianceResult == nil || final.ComplianceResult.Status != state.CompliancePotentialViolation {
		t.Error("unparsable analysis should degrade to potential_violation")
	}
	if final.Trace["analyze_compliance"].Status() != "parse_error" {
		t.Errorf("analyze_compliance = %q, want parse_error", final.Trace["analyze_compliance"].Status())
	}
	if final.Trace["retrieve_policies"].Status() != "error" {
		t.Errorf("retrieve_policies = %q, want error", final.Trace["retrieve_policies"].Status())
	}
	if final.Trace["finalize"].Status() != "success" {
		t.Error("degraded run should still finalize")
	}

	if len(initial.Errors) != 0 || len(initial.Trace) != 0 {
		t.Error("initial state was mutated")
	}
}
