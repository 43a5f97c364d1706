// Package hitl defines the human approval record and its state machine.
//
// A Request is created pending and leaves that state exactly once, through a
// conditional update in the approval store: to approved, rejected or modified
// by a human decision, or to timed_out by the expiry sweeper. Records are
// never deleted.
package hitl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/flowgate/internal/domain"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusModified Status = "modified"
	StatusTimedOut Status = "timed_out"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusModified, StatusTimedOut:
		return true
	}
	return false
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool { return s.Valid() && s != StatusPending }

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Request is one approval record.
type Request struct {
	ID                 string          `json:"id"`
	WorkflowName       string          `json:"workflowName"`
	ToolName           string          `json:"toolId"`
	Params             json.RawMessage `json:"originalParams"`
	CorrelationID      string          `json:"correlationId,omitempty"`
	Status             Status          `json:"status"`
	DecidedBy          string          `json:"decidedBy,omitempty"`
	DecidedAt          *time.Time      `json:"decidedAt,omitempty"`
	Decision           json.RawMessage `json:"decisionPayload,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	ExpiresAt          time.Time       `json:"expiresAt"`
	MessageHandle      string          `json:"messageHandle,omitempty"`
	ConversationHandle string          `json:"conversationHandle,omitempty"`
	Result             json.RawMessage `json:"workflowResult,omitempty"`
	ErrorDetail        string          `json:"errorDetails,omitempty"`
}

// NewRequest builds a pending request with a fresh id. The parameters are
// copied verbatim for replay. expiresAt must be strictly after createdAt.
func NewRequest(workflow, toolName string, params json.RawMessage, correlationID string, createdAt, expiresAt time.Time) (*Request, error) {
	if workflow == "" || toolName == "" {
		return nil, fmt.Errorf("%w: workflow and tool are required", domain.ErrValidation)
	}
	if !expiresAt.After(createdAt) {
		return nil, fmt.Errorf("%w: expiry %s is not after creation %s",
			domain.ErrValidation, expiresAt.Format(time.RFC3339), createdAt.Format(time.RFC3339))
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if !json.Valid(params) {
		return nil, fmt.Errorf("%w: params are not valid JSON", domain.ErrValidation)
	}
	return &Request{
		ID:            uuid.NewString(),
		WorkflowName:  workflow,
		ToolName:      toolName,
		Params:        append(json.RawMessage(nil), params...),
		CorrelationID: correlationID,
		Status:        StatusPending,
		CreatedAt:     createdAt.UTC(),
		ExpiresAt:     expiresAt.UTC(),
	}, nil
}

// Expired reports whether the request is still pending past its expiry.
func (r *Request) Expired(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt)
}

// ReplayParams returns the parameters a resumed call must use: the modified
// parameters for a modified decision, the original bytes otherwise.
func (r *Request) ReplayParams() json.RawMessage {
	if r.Status == StatusModified {
		if p, err := decodePayload(r.Decision); err == nil && len(p.ModifiedParams) > 0 {
			return p.ModifiedParams
		}
	}
	return r.Params
}

// Transition holds the fields written together with a status change.
type Transition struct {
	DecidedBy   string
	DecidedAt   time.Time
	Decision    json.RawMessage
	ErrorDetail string
}

// Outcome is what the resumer appends after replaying a decided request.
type Outcome struct {
	Result      json.RawMessage
	ErrorDetail string
}

// Filter narrows a record listing.
type Filter struct {
	Status Status
	Limit  int
}
