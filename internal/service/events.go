package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/messagequeue"
)

// EventPublisher emits approval lifecycle events for audit consumers.
// A nil publisher, or one without a queue, drops events.
type EventPublisher struct {
	queue messagequeue.Queue
	now   func() time.Time
}

// NewEventPublisher creates a publisher on queue, which may be nil.
func NewEventPublisher(queue messagequeue.Queue) *EventPublisher {
	return &EventPublisher{queue: queue, now: time.Now}
}

// Publish sends one event. Failures are logged; the approval flow never
// depends on delivery.
func (p *EventPublisher) Publish(ctx context.Context, typ hitl.EventType, req *hitl.Request) {
	if p == nil || p.queue == nil {
		return
	}
	data, err := json.Marshal(hitl.NewEvent(typ, req, p.now()))
	if err != nil {
		slog.Error("marshal approval event", "type", typ, "request_id", req.ID, "error", err)
		return
	}
	if err := p.queue.Publish(ctx, messagequeue.SubjectFor(typ), data); err != nil {
		slog.Warn("publish approval event failed", "type", typ, "request_id", req.ID, "error", err)
	}
}
