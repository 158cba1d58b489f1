// Package service implements the orchestration core: the outer run pipeline,
// the three domain analysis pipelines, the mixed-intent sequencer, the
// approval gate, and the run/approval services exposed over HTTP.
package service

import (
	"fmt"

	"github.com/opspilot-io/opspilot/internal/config"
	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

// Route labels of the outer pipeline's conditional edges.
const (
	RouteCompliance = "COMPLIANCE"
	RouteRCA        = "RCA"
	RouteWorkflow   = "WORKFLOW"
	RouteMixed      = "MIXED"
	RouteEnd        = "END"
	RouteSuspend    = "SUSPEND"
	RouteFinalize   = "FINALIZE"
)

// Stage names of the outer pipeline.
const (
	stageClassifyIntent     = "classify_intent"
	stageComplianceSubgraph = "compliance_subgraph"
	stageRCASubgraph        = "rca_subgraph"
	stageWorkflowSubgraph   = "workflow_subgraph"
	stageMixed              = "mixed"
	stageCheckApproval      = "check_approval"
	stageSuspend            = "suspend"
	stageResume             = "resume"
	stageFinalize           = "finalize"
)

// Route maps a classified intent to the outer pipeline's branch label. It is
// total: any value outside the intent enum maps to RouteEnd.
func Route(intent state.Intent) string {
	switch intent {
	case state.IntentCompliance:
		return RouteCompliance
	case state.IntentRCA:
		return RouteRCA
	case state.IntentWorkflow:
		return RouteWorkflow
	case state.IntentMixed:
		return RouteMixed
	default:
		return RouteEnd
	}
}

// Pipelines holds every compiled pipeline, built once at process start and
// shared by all runs.
type Pipelines struct {
	Compliance   graph.Pipeline
	RCA          graph.Pipeline
	Workflow     graph.Pipeline
	Orchestrator graph.Pipeline
	Resume       graph.Pipeline
}

// PipelineDeps are the shared collaborators the compiled stages close over.
type PipelineDeps struct {
	Reasoner  reasoner.Reasoner
	Retriever retriever.Retriever
	Approvals approvalstore.Store
	Orch      config.Orchestrator

	// Observer, when set, is notified around every node execution of every
	// compiled pipeline.
	Observer graph.Observer
}

// BuildPipelines compiles the domain pipelines, the outer orchestrator, and
// the post-approval resume pipeline.
func BuildPipelines(deps PipelineDeps) (*Pipelines, error) {
	observed := func(g *graph.Graph) graph.Pipeline {
		if deps.Observer != nil {
			return g.WithObserver(deps.Observer)
		}
		return g
	}

	complianceGraph, err := buildCompliancePipeline(deps.Reasoner, deps.Retriever)
	if err != nil {
		return nil, fmt.Errorf("compile compliance pipeline: %w", err)
	}
	compliance := observed(complianceGraph)

	rcaGraph, err := buildRCAPipeline(deps.Reasoner, deps.Retriever)
	if err != nil {
		return nil, fmt.Errorf("compile rca pipeline: %w", err)
	}
	rca := observed(rcaGraph)

	workflowGraph, err := buildWorkflowPipeline(deps.Reasoner, deps.Retriever)
	if err != nil {
		return nil, fmt.Errorf("compile workflow pipeline: %w", err)
	}
	workflow := observed(workflowGraph)

	orchestrator, err := buildOrchestratorPipeline(deps, compliance, rca, workflow)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator pipeline: %w", err)
	}

	resume, err := buildResumePipeline()
	if err != nil {
		return nil, fmt.Errorf("compile resume pipeline: %w", err)
	}

	return &Pipelines{
		Compliance:   compliance,
		RCA:          rca,
		Workflow:     workflow,
		Orchestrator: observed(orchestrator),
		Resume:       observed(resume),
	}, nil
}

// buildOrchestratorPipeline wires the outer graph: classify, route to the
// selected domain pipeline (or the mixed sequencer), evaluate the approval
// gate, then suspend or finalize.
func buildOrchestratorPipeline(deps PipelineDeps, compliance, rca, workflow graph.Pipeline) (*graph.Graph, error) {
	phases := deps.Orch.MixedPhases
	if len(phases) == 0 {
		phases = []string{"compliance", "rca", "workflow"}
	}

	return graph.New("orchestrator").
		AddNode(stageClassifyIntent, classifyStage(deps.Reasoner)).
		AddNode(stageComplianceSubgraph, subPipelineStage(stageComplianceSubgraph, compliance, extractCompliance)).
		AddNode(stageRCASubgraph, subPipelineStage(stageRCASubgraph, rca, extractRCA)).
		AddNode(stageWorkflowSubgraph, subPipelineStage(stageWorkflowSubgraph, workflow, extractWorkflow)).
		AddNode(stageMixed, mixedStage(phases, compliance, rca, workflow)).
		AddNode(stageCheckApproval, checkApprovalStage()).
		AddNode(stageSuspend, suspendStage(deps.Approvals)).
		AddNode(stageFinalize, finalizeStage()).
		SetStart(stageClassifyIntent).
		AddConditionalEdge(stageClassifyIntent, routeByIntent, map[string]string{
			RouteCompliance: stageComplianceSubgraph,
			RouteRCA:        stageRCASubgraph,
			RouteWorkflow:   stageWorkflowSubgraph,
			RouteMixed:      stageMixed,
			RouteEnd:        stageFinalize,
		}).
		AddEdge(stageComplianceSubgraph, stageCheckApproval).
		AddEdge(stageRCASubgraph, stageCheckApproval).
		AddEdge(stageWorkflowSubgraph, stageCheckApproval).
		AddEdge(stageMixed, stageCheckApproval).
		AddConditionalEdge(stageCheckApproval, routeAfterCheck, map[string]string{
			RouteSuspend:  stageSuspend,
			RouteFinalize: stageFinalize,
		}).
		AddConditionalEdge(stageSuspend, routeAfterSuspend, map[string]string{
			RouteEnd:      graph.End,
			RouteFinalize: stageFinalize,
		}).
		AddEdge(stageFinalize, graph.End).
		Compile()
}

// buildResumePipeline wires the continuation executed after an approval
// decision: record the decision, then finalize. Upstream analysis stages are
// not re-run.
func buildResumePipeline() (*graph.Graph, error) {
	return graph.New("resume").
		AddNode(stageResume, resumeStage()).
		AddNode(stageFinalize, finalizeStage()).
		SetStart(stageResume).
		AddEdge(stageResume, stageFinalize).
		AddEdge(stageFinalize, graph.End).
		Compile()
}
