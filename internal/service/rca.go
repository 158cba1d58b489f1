package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

const (
	topKIncidents  = 5
	topKSystems    = 3
	maxFileLogSize = 5000
	maxHypotheses  = 5
)

const rcaSystemPrompt = `You are an expert in IT incident root cause analysis.
You analyze logs, error messages, and incident descriptions to identify root causes and propose hypotheses.

### Analysis principles
1. Generate multiple hypotheses and rank them.
2. Every hypothesis must cite supporting evidence (logs, references).
3. Hypotheses must be verifiable.
4. When uncertain, say what additional information is needed.

### Similar past incidents
%s

### System information
%s

### Output format (JSON only)
{
  "hypotheses": [
    {
      "rank": 1,
      "title": "hypothesis title",
      "description": "detailed description",
      "evidence": ["supporting evidence 1", "supporting evidence 2"],
      "confidence": "high" | "medium" | "low",
      "verification_steps": ["verification method 1", "verification method 2"]
    }
  ],
  "additional_info_needed": ["information still needed"],
  "summary": "overall analysis summary (1-2 sentences)"
}

If no similar incidents exist:
{
  "hypotheses": [
    {
      "rank": 1,
      "title": "General analysis",
      "description": "analysis of the provided information",
      "evidence": ["submitted log and error details"],
      "confidence": "low",
      "verification_steps": ["collect detailed logs", "check system state"]
    }
  ],
  "additional_info_needed": ["detailed logs", "system configuration"],
  "summary": "No similar incidents found, performed a general analysis."
}`

// errorKeywords mark free text as likely incident-related.
var errorKeywords = []string{"error", "exception", "fail"}

// logMarkers are the level tags of structured log lines.
var logMarkers = []string{"INFO", "WARN", "ERROR", "DEBUG", "FATAL"}

// buildRCAPipeline compiles the root-cause-analysis pipeline: extract log
// signals from the input, retrieve similar incidents and system context,
// generate ranked hypotheses, and prioritize them.
func buildRCAPipeline(r reasoner.Reasoner, ret retriever.Retriever) (*graph.Graph, error) {
	return graph.New("rca").
		AddNode("parse_logs", parseLogsStage()).
		AddNode("retrieve_incidents", retrieveIncidentsStage(ret)).
		AddNode("retrieve_system_info", retrieveSystemInfoStage(ret)).
		AddNode("generate_hypotheses", generateHypothesesStage(r)).
		AddNode("prioritize_hypotheses", prioritizeHypothesesStage()).
		SetStart("parse_logs").
		AddEdge("parse_logs", "retrieve_incidents").
		AddEdge("retrieve_incidents", "retrieve_system_info").
		AddEdge("retrieve_system_info", "generate_hypotheses").
		AddEdge("generate_hypotheses", "prioritize_hypotheses").
		AddEdge("prioritize_hypotheses", graph.End).
		Compile()
}

func parseLogsStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		lower := strings.ToLower(s.UserInput)

		info := &state.LogInfo{
			RawInput:         s.UserInput,
			HasErrorKeywords: containsAny(lower, errorKeywords),
			HasLogFormat:     containsAny(s.UserInput, logMarkers),
		}

		var fileLogs []state.FileLog
		for _, f := range s.Files {
			if strings.HasSuffix(f.Name, ".log") || strings.HasSuffix(f.Name, ".txt") {
				fileLogs = append(fileLogs, state.FileLog{
					Filename: f.Name,
					Content:  truncate(f.Content, maxFileLogSize),
				})
			}
		}

		ctxOut := s.Context
		ctxOut.LogInfo = info
		ctxOut.FileLogs = fileLogs

		slog.Info("logs parsed", "run_id", s.RunID, "has_error", info.HasErrorKeywords, "files", len(fileLogs))
		return state.Update{
			Context: &ctxOut,
			Trace: s.TraceWith("parse_logs", state.TraceEntry{
				"status":             "success",
				"has_error_keywords": info.HasErrorKeywords,
				"file_count":         len(fileLogs),
			}),
		}
	}
}

func retrieveIncidentsStage(ret retriever.Retriever) graph.Stage {
	return retrieveEvidenceStage("retrieve_incidents", retriever.CollectionIncidents, "incident", topKIncidents, ret)
}

func retrieveSystemInfoStage(ret retriever.Retriever) graph.Stage {
	return retrieveEvidenceStage("retrieve_system_info", retriever.CollectionSystems, "system", topKSystems, ret)
}

// retrieveEvidenceStage searches one collection and appends the hits as typed
// evidence. Retrieval failure is recoverable: the pipeline continues with
// whatever evidence it has.
func retrieveEvidenceStage(stageName, collection, evidenceType string, topK int, ret retriever.Retriever) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		results, err := ret.Search(ctx, s.UserInput, collection, topK, nil)
		if err != nil {
			slog.Warn("retrieval failed", "run_id", s.RunID, "collection", collection, "error", err)
			return state.Update{
				Errors: s.ErrorsWith(collection + " retrieval failed: " + err.Error()),
				Trace: s.TraceWith(stageName, state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		evidence := make([]state.Evidence, 0, len(results))
		for _, r := range results {
			evidence = append(evidence, state.Evidence{
				Type:     evidenceType,
				ID:       r.DocID,
				Content:  r.Text,
				Score:    r.Score,
				Metadata: r.Metadata,
			})
		}

		return state.Update{
			Evidence: s.EvidenceWith(evidence...),
			Trace: s.TraceWith(stageName, state.TraceEntry{
				"status": "success",
				"count":  len(evidence),
			}),
		}
	}
}

func generateHypothesesStage(r reasoner.Reasoner) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		incidentEvidence := evidenceOfType(s.Evidence, "incident")
		systemEvidence := evidenceOfType(s.Evidence, "system")

		incidentsText := "No similar incidents found."
		if len(incidentEvidence) > 0 {
			incidentsText = joinEvidence("incident", incidentEvidence)
		}
		systemText := "No system information available."
		if len(systemEvidence) > 0 {
			systemText = joinEvidence("system", systemEvidence)
		}

		userMessage := "Analyze the following incident/logs and propose root cause hypotheses:\n\n" + s.UserInput
		if len(s.Context.FileLogs) > 0 {
			parts := make([]string, 0, len(s.Context.FileLogs))
			for _, f := range s.Context.FileLogs {
				parts = append(parts, "[file: "+f.Filename+"]\n"+truncate(f.Content, maxFileExcerpt))
			}
			userMessage += "\n\n### Attached log files\n" + strings.Join(parts, "\n\n")
		}

		raw, err := r.Analyze(ctx, fmt.Sprintf(rcaSystemPrompt, incidentsText, systemText), userMessage)
		if err != nil {
			slog.Error("hypothesis generation failed", "run_id", s.RunID, "error", err)
			return state.Update{
				RCAResult: degradedRCAResult("Analysis failed: "+err.Error(), incidentEvidence, systemEvidence),
				Errors:    s.ErrorsWith("hypothesis generation failed: " + err.Error()),
				Trace: s.TraceWith("generate_hypotheses", state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		var parsed struct {
			Hypotheses []state.Hypothesis `json:"hypotheses"`
			Summary    string             `json:"summary"`
		}
		if err := decodeModelJSON(raw, &parsed); err != nil {
			slog.Error("hypothesis response unparsable", "run_id", s.RunID, "error", err)
			return state.Update{
				RCAResult: degradedRCAResult("Failed to parse analysis response", incidentEvidence, systemEvidence),
				Errors:    s.ErrorsWith("hypothesis parse failed: " + err.Error()),
				Trace: s.TraceWith("generate_hypotheses", state.TraceEntry{
					"status": "parse_error",
					"error":  err.Error(),
				}),
			}
		}

		hypotheses := parsed.Hypotheses
		sort.SliceStable(hypotheses, func(i, j int) bool {
			return hypotheses[i].Rank < hypotheses[j].Rank
		})

		slog.Info("hypotheses generated", "run_id", s.RunID, "count", len(hypotheses))
		return state.Update{
			RCAResult: &state.RCAResult{
				Hypotheses: hypotheses,
				Evidence:   append(incidentEvidence, systemEvidence...),
				Summary:    parsed.Summary,
			},
			Trace: s.TraceWith("generate_hypotheses", state.TraceEntry{
				"status":           "success",
				"hypothesis_count": len(hypotheses),
			}),
		}
	}
}

// prioritizeHypothesesStage sorts by rank, breaking ties by confidence, and
// keeps the top candidates.
func prioritizeHypothesesStage() graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		result := s.RCAResult
		if result == nil {
			return state.Update{}
		}

		hypotheses := append([]state.Hypothesis(nil), result.Hypotheses...)
		sort.SliceStable(hypotheses, func(i, j int) bool {
			if hypotheses[i].Rank != hypotheses[j].Rank {
				return hypotheses[i].Rank < hypotheses[j].Rank
			}
			return confidenceScore(hypotheses[i].Confidence) > confidenceScore(hypotheses[j].Confidence)
		})

		if len(hypotheses) > maxHypotheses {
			hypotheses = hypotheses[:maxHypotheses]
		}

		updated := *result
		updated.Hypotheses = hypotheses
		return state.Update{
			RCAResult: &updated,
			Trace: s.TraceWith("prioritize_hypotheses", state.TraceEntry{
				"status":    "success",
				"top_count": len(hypotheses),
			}),
		}
	}
}

// degradedRCAResult is the fallback when the model call or its parse fails:
// a single low-confidence hypothesis pointing at manual investigation.
func degradedRCAResult(summary string, incidentEvidence, systemEvidence []state.Evidence) *state.RCAResult {
	return &state.RCAResult{
		Hypotheses: []state.Hypothesis{{
			Rank:              1,
			Title:             "Manual analysis required",
			Description:       "Automated analysis was unavailable. Review the submitted logs manually.",
			Evidence:          []string{"submitted log and error details"},
			Confidence:        "low",
			VerificationSteps: []string{"collect detailed logs", "check system state"},
		}},
		Evidence: append(incidentEvidence, systemEvidence...),
		Summary:  summary,
	}
}

func joinEvidence(label string, evidence []state.Evidence) string {
	parts := make([]string, 0, len(evidence))
	for _, e := range evidence {
		parts = append(parts, "["+label+": "+e.ID+"]\n"+e.Content)
	}
	return strings.Join(parts, policySeparator)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func confidenceScore(c string) int {
	switch c {
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}
