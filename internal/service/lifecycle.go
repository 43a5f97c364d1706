package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
)

// lifecycle bundles what every status change needs: the store for the
// conditional update, and the channel, event and metric side effects.
type lifecycle struct {
	store   approvalstore.Store
	notify  *NotificationService
	events  *EventPublisher
	metrics *fgotel.Metrics
}

// expire moves req from pending to timed_out. It returns domain.ErrConflict
// when a decision won the race.
func (l *lifecycle) expire(ctx context.Context, req *hitl.Request, now time.Time) (*hitl.Request, error) {
	updated, err := l.store.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, hitl.StatusTimedOut, hitl.Transition{
		DecidedBy:   "system:expiry",
		DecidedAt:   now.UTC(),
		ErrorDetail: fmt.Sprintf("no decision received before %s", req.ExpiresAt.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("approval request expired", "request_id", updated.ID, "workflow", updated.WorkflowName, "expires_at", updated.ExpiresAt)
	l.metrics.RecordApprovalResolved(ctx, updated.WorkflowName, string(updated.Status))
	l.events.Publish(ctx, hitl.EventExpired, updated)
	l.notify.Update(ctx, updated, FormatOutcome(updated))
	return updated, nil
}

// errorDetail renders a failure for storage on the record, using the
// stable taxonomy message.
func errorDetail(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		msg := fmt.Sprintf("%s: %s", de.Kind, de.Kind.Message())
		if de.Detail != "" {
			msg += " (" + de.Detail + ")"
		}
		return msg
	}
	return err.Error()
}
