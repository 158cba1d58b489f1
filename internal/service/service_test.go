package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opspilot-io/opspilot/internal/config"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

// fakeReasoner dispatches Classify and Analyze to test-provided funcs.
type fakeReasoner struct {
	classify func(ctx context.Context, userInput string, fileNames []string) (reasoner.Classification, error)
	analyze  func(ctx context.Context, system, user string) (string, error)
}

func (f *fakeReasoner) Classify(ctx context.Context, userInput string, fileNames []string) (reasoner.Classification, error) {
	if f.classify == nil {
		return reasoner.Classification{Intent: state.IntentUnknown}, nil
	}
	return f.classify(ctx, userInput, fileNames)
}

func (f *fakeReasoner) Analyze(ctx context.Context, system, user string) (string, error) {
	if f.analyze == nil {
		return "", errors.New("analyze not configured")
	}
	return f.analyze(ctx, system, user)
}

// fakeRetriever serves canned results keyed by collection.
type fakeRetriever struct {
	results map[string][]retriever.Result
	err     error
	calls   []string
}

func (f *fakeRetriever) Search(ctx context.Context, query, collection string, topK int, filterTags []string) ([]retriever.Result, error) {
	f.calls = append(f.calls, collection)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[collection], nil
}

// classifyAs returns a reasoner that always classifies to the given intent.
func classifyAs(intent state.Intent) func(context.Context, string, []string) (reasoner.Classification, error) {
	return func(context.Context, string, []string) (reasoner.Classification, error) {
		return reasoner.Classification{Intent: intent, Reason: "test"}, nil
	}
}

// analyzeByPrompt answers model calls by matching a marker phrase in the
// system prompt to the pipeline asking.
func analyzeByPrompt(t *testing.T, responses map[string]string) func(context.Context, string, string) (string, error) {
	t.Helper()
	return func(_ context.Context, system, _ string) (string, error) {
		for marker, response := range responses {
			if strings.Contains(system, marker) {
				return response, nil
			}
		}
		t.Fatalf("no canned response for system prompt: %.80s", system)
		return "", nil
	}
}

const complianceResponse = `{
  "status": "violation",
  "violations": [{"rule_name": "Data retention", "violation_detail": "logs kept too long", "severity": "high"}],
  "recommendations": ["Purge logs older than 90 days"],
  "summary": "Retention policy violated"
}`

const rcaResponse = `{
  "hypotheses": [
    {"rank": 2, "title": "Connection pool exhausted", "confidence": "medium", "evidence": ["pool timeout in logs"]},
    {"rank": 1, "title": "Database failover", "confidence": "high", "evidence": ["replica lag spike"]}
  ],
  "summary": "Database failover is the most likely cause"
}`

const workflowLowRiskResponse = `{
  "action_plan": [
    {"step": 1, "title": "Check service health", "risk_level": "low", "requires_approval": false}
  ],
  "total_steps": 1,
  "overall_risk": "low",
  "approvals_required": [],
  "summary": "Read-only verification"
}`

const workflowMediumRiskResponse = `{
  "action_plan": [
    {"step": 1, "title": "Scale the worker pool", "risk_level": "medium", "requires_approval": false},
    {"step": 2, "title": "Restart the scheduler", "risk_level": "medium", "requires_approval": false}
  ],
  "total_steps": 2,
  "overall_risk": "medium",
  "approvals_required": [],
  "summary": "Medium-impact maintenance"
}`

const workflowHighRiskResponse = `{
  "action_plan": [
    {"step": 1, "title": "Deploy to prod", "risk_level": "high", "requires_approval": true}
  ],
  "total_steps": 1,
  "overall_risk": "high",
  "approvals_required": [],
  "summary": "Production deployment"
}`

// promptMarkers distinguish the three analysis prompts.
const (
	markerCompliance = "regulatory compliance"
	markerRCA        = "root cause analysis"
	markerWorkflow   = "IT operations planner"
)

func testOrchConfig() config.Orchestrator {
	return config.Orchestrator{
		MixedPhases:       []string{PhaseCompliance, PhaseRCA, PhaseWorkflow},
		MaxConcurrentRuns: 2,
	}
}
