// Package service contains the application services: tool dispatch, the
// approval gate, decision resolution, resumption and expiry.
package service

import (
	"context"
	"log/slog"
	"time"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
)

// Dispatcher routes invocations to registered handlers. It holds no
// per-call state.
type Dispatcher struct {
	registry *tool.Registry
	metrics  *fgotel.Metrics
}

// NewDispatcher creates a dispatcher over registry. metrics may be nil.
func NewDispatcher(registry *tool.Registry, metrics *fgotel.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: metrics}
}

// Tools returns the registered descriptors ordered by name.
func (d *Dispatcher) Tools() []tool.Descriptor { return d.registry.List() }

// Dispatch validates the parameters and runs the tool. Every returned error
// is a *domain.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, inv tool.Invocation) (any, error) {
	desc, ok := d.registry.Lookup(inv.Tool)
	if !ok {
		return nil, &domain.Error{Kind: domain.KindUnknownTool, Tool: inv.Tool, Detail: inv.Tool, Err: domain.ErrUnknownTool}
	}

	ctx, span := fgotel.StartToolCallSpan(ctx, desc.Name, string(desc.Category), inv.RequestID)
	start := time.Now()

	result, err := d.run(ctx, desc, inv)

	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	} else if _, pending := result.(*hitl.Pending); pending {
		outcome = "pending"
	}
	d.metrics.RecordToolCall(ctx, desc.Name, string(desc.Category), outcome, time.Since(start))

	if err != nil {
		fgotel.EndSpan(span, err)
		slog.Warn("tool call failed",
			"tool", desc.Name,
			"category", desc.Category,
			"kind", err.Kind,
			"backend", err.Backend,
			"status", err.Status,
			"resumed", inv.Resumed,
			"request_id", inv.RequestID,
			"error", err.Err,
		)
		return nil, err
	}
	fgotel.EndSpan(span, nil)
	slog.Debug("tool call completed", "tool", desc.Name, "outcome", outcome, "request_id", inv.RequestID)
	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, desc tool.Descriptor, inv tool.Invocation) (any, *domain.Error) {
	if err := desc.ValidateParams(inv.Params); err != nil {
		return nil, Classify(err, desc)
	}
	result, err := desc.Handler(ctx, inv)
	if err != nil {
		return nil, Classify(err, desc)
	}
	return result, nil
}
