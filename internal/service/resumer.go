package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/pool"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
)

const resumeTimeout = 5 * time.Minute

// ToolDispatcher runs a tool invocation.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, inv tool.Invocation) (any, error)
}

// Resumer replays decided requests. It is only handed records whose
// compare-and-set it won, so each record is replayed at most once.
type Resumer struct {
	lifecycle
	dispatcher ToolDispatcher
	pool       *pool.Pool
}

// NewResumer creates a resumer running jobs on p.
func NewResumer(d ToolDispatcher, store approvalstore.Store, notify *NotificationService, events *EventPublisher, p *pool.Pool) *Resumer {
	return &Resumer{
		lifecycle:  lifecycle{store: store, notify: notify, events: events},
		dispatcher: d,
		pool:       p,
	}
}

// SetMetrics sets the metric instruments.
func (r *Resumer) SetMetrics(m *fgotel.Metrics) { r.metrics = m }

// Schedule resumes req in the background. The job outlives the inbound
// request that triggered it.
func (r *Resumer) Schedule(ctx context.Context, req *hitl.Request) {
	r.pool.Go(context.WithoutCancel(ctx), func(ctx context.Context) {
		r.Resume(ctx, req)
	})
}

// Wait blocks until scheduled resumptions have finished.
func (r *Resumer) Wait() { r.pool.Wait() }

// Resume runs the follow-up for req's terminal status: a replay for
// approved and modified requests, a confirmation for rejected ones.
func (r *Resumer) Resume(ctx context.Context, req *hitl.Request) {
	switch req.Status {
	case hitl.StatusApproved, hitl.StatusModified:
		r.replay(ctx, req)
	case hitl.StatusRejected:
		r.notify.Update(ctx, req, FormatOutcome(req))
	default:
		slog.Debug("nothing to resume", "request_id", req.ID, "status", req.Status)
	}
}

func (r *Resumer) replay(ctx context.Context, req *hitl.Request) {
	if len(req.Result) > 0 || req.ErrorDetail != "" {
		slog.Warn("replay skipped: outcome already recorded", "request_id", req.ID)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, resumeTimeout)
	defer cancel()
	ctx, span := fgotel.StartResumeSpan(ctx, req.ID, req.WorkflowName)

	requestID := req.CorrelationID
	if requestID == "" {
		requestID = req.ID
	}
	result, err := r.dispatcher.Dispatch(ctx, tool.Invocation{
		Tool:      req.ToolName,
		Params:    req.ReplayParams(),
		RequestID: requestID,
		Resumed:   true,
	})

	var outcome hitl.Outcome
	if err != nil {
		outcome.ErrorDetail = errorDetail(err)
	} else if raw, mErr := json.Marshal(result); mErr != nil {
		outcome.ErrorDetail = "encode workflow result: " + mErr.Error()
	} else {
		if bytes.Equal(raw, []byte("null")) {
			raw = json.RawMessage("{}")
		}
		outcome.Result = raw
	}
	fgotel.EndSpan(span, err)

	label := "ok"
	if outcome.ErrorDetail != "" {
		label = "failed"
	}
	r.metrics.RecordResumption(ctx, req.WorkflowName, label)

	if err := r.store.RecordOutcome(context.WithoutCancel(ctx), req.ID, outcome); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("outcome already recorded", "request_id", req.ID)
		} else {
			slog.Error("record outcome failed", "request_id", req.ID, "error", err)
		}
	}
	req.Result = outcome.Result
	req.ErrorDetail = outcome.ErrorDetail

	slog.Info("approved workflow resumed",
		"request_id", req.ID,
		"workflow", req.WorkflowName,
		"status", req.Status,
		"outcome", label,
		"error_detail", outcome.ErrorDetail,
	)
	r.events.Publish(ctx, hitl.EventCompleted, req)
	r.notify.Update(ctx, req, FormatOutcome(req))
}
