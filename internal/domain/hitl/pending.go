package hitl

import (
	"fmt"
	"time"
)

// PendingStatus is the status value of a suspended tool call result.
const PendingStatus = "pending"

// Pending is returned to the caller in place of a workflow result when the
// workflow was suspended for approval.
type Pending struct {
	Status       string    `json:"status"`
	RequestID    string    `json:"requestId"`
	Message      string    `json:"message"`
	ExpiresAt    time.Time `json:"expiresAt"`
	WorkflowName string    `json:"workflowName"`
}

// NewPending builds the awaiting-decision result for req.
func NewPending(req *Request) *Pending {
	return &Pending{
		Status:    PendingStatus,
		RequestID: req.ID,
		Message: fmt.Sprintf("Workflow %s is awaiting human approval. It will run once approved; the request expires at %s.",
			req.WorkflowName, req.ExpiresAt.Format(time.RFC3339)),
		ExpiresAt:    req.ExpiresAt,
		WorkflowName: req.WorkflowName,
	}
}

// EventType names a lifecycle event published for each request.
type EventType string

const (
	EventCreated   EventType = "created"
	EventDecided   EventType = "decided"
	EventExpired   EventType = "expired"
	EventCompleted EventType = "completed"
)

// Event is a lifecycle notification for audit consumers.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId"`
	Workflow  string    `json:"workflow"`
	Status    Status    `json:"status"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent snapshots req into an event of the given type.
func NewEvent(typ EventType, req *Request, at time.Time) Event {
	return Event{
		Type:      typ,
		RequestID: req.ID,
		Workflow:  req.WorkflowName,
		Status:    req.Status,
		Actor:     req.DecidedBy,
		Detail:    req.ErrorDetail,
		At:        at.UTC(),
	}
}
