package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowgate"

// Metrics holds all gateway metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	ToolCalls          metric.Int64Counter
	ToolDuration       metric.Float64Histogram
	BackendRetries     metric.Int64Counter
	BreakerTransitions metric.Int64Counter
	ApprovalsCreated   metric.Int64Counter
	ApprovalsResolved  metric.Int64Counter
	Resumptions        metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.ToolCalls, err = meter.Int64Counter("flowgate.tool.calls",
		metric.WithDescription("Tool invocations by tool and outcome")); err != nil {
		return nil, err
	}
	if m.ToolDuration, err = meter.Float64Histogram("flowgate.tool.duration_seconds",
		metric.WithDescription("Tool invocation latency in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.BackendRetries, err = meter.Int64Counter("flowgate.backend.retries",
		metric.WithDescription("Retried backend calls")); err != nil {
		return nil, err
	}
	if m.BreakerTransitions, err = meter.Int64Counter("flowgate.backend.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes")); err != nil {
		return nil, err
	}
	if m.ApprovalsCreated, err = meter.Int64Counter("flowgate.approvals.created",
		metric.WithDescription("Approval requests created")); err != nil {
		return nil, err
	}
	if m.ApprovalsResolved, err = meter.Int64Counter("flowgate.approvals.resolved",
		metric.WithDescription("Approval requests leaving pending, by status")); err != nil {
		return nil, err
	}
	if m.Resumptions, err = meter.Int64Counter("flowgate.approvals.resumptions",
		metric.WithDescription("Replays of approved requests, by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordToolCall counts one dispatch. outcome is "ok", "pending" or an error kind.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, category, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRetry counts one scheduled retry against backend.
func (m *Metrics) RecordRetry(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.BackendRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordBreaker counts a breaker state change.
func (m *Metrics) RecordBreaker(ctx context.Context, backend, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend), attribute.String("state", to)))
}

// RecordApprovalCreated counts a new pending request.
func (m *Metrics) RecordApprovalCreated(ctx context.Context, workflow string) {
	if m == nil {
		return
	}
	m.ApprovalsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflow)))
}

// RecordApprovalResolved counts a transition out of pending.
func (m *Metrics) RecordApprovalResolved(ctx context.Context, workflow, status string) {
	if m == nil {
		return
	}
	m.ApprovalsResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow), attribute.String("status", status)))
}

// RecordResumption counts a replay.
func (m *Metrics) RecordResumption(ctx context.Context, workflow, outcome string) {
	if m == nil {
		return
	}
	m.Resumptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow), attribute.String("outcome", outcome)))
}
