package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opspilot-io/opspilot/internal/graph"
)

const tracerName = "opspilot"

// StartRunSpan starts a span for one analysis run.
func StartRunSpan(ctx context.Context, runID, intent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.intent", intent),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, pipeline, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("pipeline.name", pipeline),
			attribute.String("stage.name", stage),
		),
	)
}

// StartRetrievalSpan starts a span for a knowledge collection search.
func StartRetrievalSpan(ctx context.Context, collection string, topK int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "retrieval",
		trace.WithAttributes(
			attribute.String("retrieval.collection", collection),
			attribute.Int("retrieval.top_k", topK),
		),
	)
}

// StageObserver returns a graph observer that wraps every node execution in
// a stage span carrying the node's trace status.
func StageObserver() graph.Observer {
	return func(ctx context.Context, pipeline, node string) (context.Context, func(status string)) {
		ctx, span := StartStageSpan(ctx, pipeline, node)
		return ctx, func(status string) {
			span.SetAttributes(attribute.String("stage.status", status))
			if status == "error" || status == "panic" {
				span.SetStatus(codes.Error, status)
			}
			span.End()
		}
	}
}
