package service

import (
	"context"
	"log/slog"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
)

// classifyStage determines the intent of the request. A failed or
// unparsable classification degrades to IntentUnknown, which routes the run
// straight to finalize.
func classifyStage(r reasoner.Reasoner) graph.Stage {
	return func(ctx context.Context, s state.State) state.Update {
		c, err := r.Classify(ctx, s.UserInput, fileNames(s.Files))
		if err != nil {
			slog.Warn("intent classification failed", "run_id", s.RunID, "error", err)
			return state.Update{
				Intent: state.IntentPtr(state.IntentUnknown),
				Errors: s.ErrorsWith("intent classification failed: " + err.Error()),
				Trace: s.TraceWith(stageClassifyIntent, state.TraceEntry{
					"status": "error",
					"error":  err.Error(),
				}),
			}
		}

		slog.Info("intent classified", "run_id", s.RunID, "intent", c.Intent, "reason", c.Reason)
		return state.Update{
			Intent: state.IntentPtr(c.Intent),
			Trace: s.TraceWith(stageClassifyIntent, state.TraceEntry{
				"status": "success",
				"intent": string(c.Intent),
				"reason": c.Reason,
			}),
		}
	}
}

// routeByIntent is the outer pipeline's router after classification.
func routeByIntent(_ context.Context, s state.State) string {
	return Route(s.Intent)
}
