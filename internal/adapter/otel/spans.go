package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowgate"

// StartToolCallSpan starts a span for one tool dispatch.
func StartToolCallSpan(ctx context.Context, tool, category, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool "+tool,
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.category", category),
			attribute.String("request.id", requestID),
		),
	)
}

// StartGateSpan starts a span for an approval gate check.
func StartGateSpan(ctx context.Context, workflow string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.gate",
		trace.WithAttributes(attribute.String("workflow.name", workflow)),
	)
}

// StartDecisionSpan starts a span for resolving a human decision.
func StartDecisionSpan(ctx context.Context, requestID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.decision",
		trace.WithAttributes(
			attribute.String("approval.id", requestID),
			attribute.String("approval.action", action),
		),
	)
}

// StartResumeSpan starts a span for replaying an approved request. It is a
// new root linked to the decision that triggered it.
func StartResumeSpan(ctx context.Context, requestID, workflow string) (context.Context, trace.Span) {
	link := trace.LinkFromContext(ctx)
	return otel.Tracer(tracerName).Start(context.WithoutCancel(ctx), "approval.resume",
		trace.WithNewRoot(),
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("approval.id", requestID),
			attribute.String("workflow.name", workflow),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
