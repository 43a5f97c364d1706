package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
	"github.com/Strob0t/flowgate/internal/port/notifier"
)

const (
	maxPromptFields = 20
	maxFieldLen     = 200
)

// NotificationService delivers decision prompts and outcome updates over
// the configured channel. Without a channel it only logs.
type NotificationService struct {
	notifier notifier.Notifier
	target   string
	store    approvalstore.Store
}

// NewNotificationService creates the service. n may be nil.
func NewNotificationService(n notifier.Notifier, target string, store approvalstore.Store) *NotificationService {
	return &NotificationService{notifier: n, target: target, store: store}
}

// Channel returns the active notifier, or nil.
func (s *NotificationService) Channel() notifier.Notifier {
	if s == nil {
		return nil
	}
	return s.notifier
}

// Prompt sends the decision prompt for req and stores the message handles
// on the record. A delivery failure leaves the pending record untouched.
func (s *NotificationService) Prompt(ctx context.Context, req *hitl.Request) {
	if s == nil {
		return
	}
	text := FormatPrompt(req)
	if s.notifier == nil {
		slog.Info("approval prompt (no channel configured)", "request_id", req.ID, "workflow", req.WorkflowName)
		return
	}

	handle, err := s.notifier.Send(ctx, s.target, text, DecisionActions(req.ID))
	if err != nil {
		slog.Warn("approval prompt delivery failed",
			"channel", s.notifier.Name(),
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	if handle.MessageID == "" && handle.Conversation == "" {
		return
	}
	req.MessageHandle = handle.MessageID
	req.ConversationHandle = handle.Conversation
	if err := s.store.AttachMessage(ctx, req.ID, handle.MessageID, handle.Conversation); err != nil {
		slog.Warn("store message handle failed", "request_id", req.ID, "error", err)
	}
}

// Update reports a new state of req, editing the prompt in place when the
// channel supports it.
func (s *NotificationService) Update(ctx context.Context, req *hitl.Request, text string) {
	if s == nil {
		return
	}
	if s.notifier == nil {
		slog.Info("approval update (no channel configured)", "request_id", req.ID, "status", req.Status)
		return
	}
	target := req.ConversationHandle
	if target == "" {
		target = s.target
	}
	var err error
	if req.MessageHandle != "" {
		err = s.notifier.SendUpdate(ctx, target, notifier.Handle{MessageID: req.MessageHandle, Conversation: req.ConversationHandle}, text)
	} else {
		_, err = s.notifier.Send(ctx, target, text, nil)
	}
	if err != nil {
		slog.Warn("approval update delivery failed",
			"channel", s.notifier.Name(),
			"request_id", req.ID,
			"status", req.Status,
			"error", err,
		)
	}
}

// DecisionActions returns the buttons of a decision prompt. Modifying
// parameters needs a payload, so it is offered through the webhook only.
func DecisionActions(id string) []notifier.Action {
	return []notifier.Action{
		{Label: "Approve", Data: hitl.EncodeCallbackData(hitl.ActionApprove, id)},
		{Label: "Reject", Data: hitl.EncodeCallbackData(hitl.ActionReject, id)},
	}
}

// FormatPrompt renders the decision prompt for req.
func FormatPrompt(req *hitl.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required: %s\n", req.WorkflowName)
	fmt.Fprintf(&b, "Tool: %s\n", req.ToolName)
	fmt.Fprintf(&b, "Request: %s\n", req.ID)
	fmt.Fprintf(&b, "Expires: %s\n", req.ExpiresAt.UTC().Format(time.RFC3339))
	if lines := paramLines(req.Params); len(lines) > 0 {
		b.WriteString("\nParameters:\n")
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func paramLines(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil || len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, min(len(keys), maxPromptFields)+1)
	for i, k := range keys {
		if i == maxPromptFields {
			lines = append(lines, fmt.Sprintf("... %d more", len(keys)-maxPromptFields))
			break
		}
		var v string
		switch t := params[k].(type) {
		case nil:
			continue
		case string:
			v = t
		case json.Number:
			v = t.String()
		default:
			enc, _ := json.Marshal(t)
			v = string(enc)
		}
		v = clip(v, maxFieldLen)
		lines = append(lines, k+": "+v)
	}
	return lines
}

// FormatOutcome renders the message that replaces the prompt once req left
// pending.
func FormatOutcome(req *hitl.Request) string {
	who := req.DecidedBy
	if who == "" {
		who = "unknown"
	}
	switch req.Status {
	case hitl.StatusApproved, hitl.StatusModified:
		verb := "approved"
		if req.Status == hitl.StatusModified {
			verb = "approved with modified parameters"
		}
		switch {
		case req.ErrorDetail != "":
			return fmt.Sprintf("%s %s by %s, but execution failed: %s\nRequest: %s", req.WorkflowName, verb, who, req.ErrorDetail, req.ID)
		case len(req.Result) > 0:
			return fmt.Sprintf("%s %s by %s and completed.\nRequest: %s", req.WorkflowName, verb, who, req.ID)
		}
		return fmt.Sprintf("%s %s by %s, running.\nRequest: %s", req.WorkflowName, verb, who, req.ID)
	case hitl.StatusRejected:
		return fmt.Sprintf("%s rejected by %s. Nothing was executed.\nRequest: %s", req.WorkflowName, who, req.ID)
	case hitl.StatusTimedOut:
		return fmt.Sprintf("%s expired without a decision. Nothing was executed.\nRequest: %s", req.WorkflowName, req.ID)
	}
	return fmt.Sprintf("%s is awaiting approval.\nRequest: %s", req.WorkflowName, req.ID)
}

// clip shortens s to at most n bytes without splitting a rune and marks the
// cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
