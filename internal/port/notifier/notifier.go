// Package notifier defines the port for pushing decision prompts to humans
// over an external messaging channel.
package notifier

import (
	"context"
	"errors"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Action is one button of a decision prompt. Data is returned verbatim in
// the channel callback.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Handle identifies a delivered message so it can be updated later.
type Handle struct {
	MessageID    string `json:"message_id"`
	Conversation string `json:"conversation"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	// Actions means buttons call back into the webhook.
	Actions bool `json:"actions"`
	// Updates means SendUpdate edits the original message in place
	// instead of posting a follow-up.
	Updates bool `json:"updates"`
}

// Notifier is the port interface for the messaging channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "telegram").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers text with the given actions to target and returns the
	// handle of the delivered message.
	Send(ctx context.Context, target, text string, actions []Action) (Handle, error)

	// SendUpdate replaces or follows up on a previously sent message.
	SendUpdate(ctx context.Context, target string, handle Handle, text string) error
}

// CallbackDecoder is implemented by notifiers whose buttons post back to the
// gateway (Telegram). The webhook route hands the raw update body to the
// active notifier.
type CallbackDecoder interface {
	// DecodeCallback extracts a decision from a channel update. ok is false
	// for updates that carry no decision and must be acknowledged silently.
	// ackID identifies the button press for AckCallback.
	DecodeCallback(body []byte) (cb hitl.Callback, ackID string, ok bool, err error)

	// AckCallback stops the client-side spinner and shows text to the user.
	AckCallback(ctx context.Context, ackID, text string) error
}
