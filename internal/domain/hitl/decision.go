package hitl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/flowgate/internal/domain"
)

// Action is what a human chose in the decision prompt.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
)

// ParseAction accepts the action names used by the webhook and the channel
// buttons, case-insensitively.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionModify:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", domain.ErrMalformedCallback, s)
}

// Callback is the raw decision received from a channel or the webhook.
type Callback struct {
	Action         string          `json:"action"`
	RequestID      string          `json:"requestId"`
	ActorID        string          `json:"actorId"`
	Reason         string          `json:"reason,omitempty"`
	ModifiedParams json.RawMessage `json:"modifiedParams,omitempty"`
}

// Decision is a validated callback.
type Decision struct {
	RequestID      string
	Action         Action
	Actor          string
	Reason         string
	ModifiedParams json.RawMessage
}

// ParseCallback validates the action and the request id shape.
func ParseCallback(cb Callback) (Decision, error) {
	if strings.TrimSpace(cb.Action) == "" {
		return Decision{}, fmt.Errorf("%w: action is required", domain.ErrMalformedCallback)
	}
	action, err := ParseAction(cb.Action)
	if err != nil {
		return Decision{}, err
	}
	id := strings.TrimSpace(cb.RequestID)
	if id == "" {
		return Decision{}, fmt.Errorf("%w: requestId is required", domain.ErrMalformedCallback)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: requestId %q is not a UUID", domain.ErrMalformedCallback, id)
	}
	d := Decision{
		RequestID: parsed.String(),
		Action:    action,
		Actor:     strings.TrimSpace(cb.ActorID),
		Reason:    strings.TrimSpace(cb.Reason),
	}
	if mp := bytes.TrimSpace(cb.ModifiedParams); len(mp) > 0 && !bytes.Equal(mp, []byte("null")) {
		var obj map[string]any
		if err := json.Unmarshal(mp, &obj); err != nil || obj == nil {
			return Decision{}, fmt.Errorf("%w: modifiedParams must be a JSON object", domain.ErrMalformedCallback)
		}
		d.ModifiedParams = append(json.RawMessage(nil), mp...)
	}
	if d.Actor == "" {
		d.Actor = "unknown"
	}
	return d, nil
}

// TargetStatus maps the decision onto the terminal status it produces.
// A modify action without modified parameters counts as a rejection.
func (d Decision) TargetStatus() Status {
	switch d.Action {
	case ActionApprove:
		return StatusApproved
	case ActionModify:
		if len(d.ModifiedParams) > 0 {
			return StatusModified
		}
	}
	return StatusRejected
}

// decisionPayload is the free-form payload stored on the record.
type decisionPayload struct {
	Action         Action          `json:"action"`
	Reason         string          `json:"reason,omitempty"`
	ModifiedParams json.RawMessage `json:"modifiedParams,omitempty"`
}

// Transition returns the fields to write alongside the status change.
func (d Decision) Transition(now time.Time) Transition {
	p := decisionPayload{Action: d.Action, Reason: d.Reason, ModifiedParams: d.ModifiedParams}
	if d.Action == ActionModify && len(d.ModifiedParams) == 0 && p.Reason == "" {
		p.Reason = "modify requested without modified parameters"
	}
	raw, _ := json.Marshal(p)
	return Transition{
		DecidedBy: d.Actor,
		DecidedAt: now.UTC(),
		Decision:  raw,
	}
}

func decodePayload(raw json.RawMessage) (decisionPayload, error) {
	var p decisionPayload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

const callbackPrefix = "hitl_"

// EncodeCallbackData renders the button payload for action on request id,
// e.g. "hitl_approve:<uuid>". It fits Telegram's 64-byte callback limit.
func EncodeCallbackData(a Action, id string) string {
	return callbackPrefix + string(a) + ":" + id
}

// DecodeCallbackData parses a payload produced by EncodeCallbackData.
func DecodeCallbackData(data string) (Action, string, error) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: callback data %q", domain.ErrMalformedCallback, data)
	}
	act, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: callback data %q", domain.ErrMalformedCallback, data)
	}
	a, err := ParseAction(act)
	if err != nil {
		return "", "", err
	}
	return a, id, nil
}
