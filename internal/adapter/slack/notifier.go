// Package slack implements a notifier.Notifier for Slack incoming webhooks.
//
// Incoming webhooks cannot receive interactions, so decision buttons are
// links into the approval console and updates are posted as follow-ups.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/notifier"
)

const providerName = "slack"

// Notifier sends notifications to Slack via incoming webhook.
type Notifier struct {
	webhookURL string
	consoleURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier. consoleURL is the base of the
// approval console the buttons link to; without it no buttons are rendered.
func NewNotifier(webhookURL, consoleURL string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		webhookURL: webhookURL,
		consoleURL: strings.TrimRight(consoleURL, "/"),
		httpClient: client,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Actions: false, Updates: false}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string     `json:"type"`
	Text  *slackText `json:"text"`
	URL   string     `json:"url"`
	Style string     `json:"style,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, _ string, text string, actions []notifier.Action) (notifier.Handle, error) {
	msg := slackMessage{
		Text:   text,
		Blocks: []slackBlock{{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}},
	}
	if buttons := n.buttons(actions); len(buttons) > 0 {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "actions", Elements: buttons})
	}
	return notifier.Handle{}, n.post(ctx, msg)
}

// SendUpdate posts a follow-up message; webhooks cannot edit.
func (n *Notifier) SendUpdate(ctx context.Context, _ string, _ notifier.Handle, text string) error {
	return n.post(ctx, slackMessage{
		Text:   text,
		Blocks: []slackBlock{{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}},
	})
}

func (n *Notifier) buttons(actions []notifier.Action) []slackElement {
	if n.consoleURL == "" {
		return nil
	}
	out := make([]slackElement, 0, len(actions))
	for _, a := range actions {
		action, id, err := hitl.DecodeCallbackData(a.Data)
		if err != nil {
			continue
		}
		el := slackElement{
			Type: "button",
			Text: &slackText{Type: "plain_text", Text: a.Label},
			URL:  fmt.Sprintf("%s/approvals/%s?action=%s", n.consoleURL, url.PathEscape(id), url.QueryEscape(string(action))),
		}
		switch action {
		case hitl.ActionApprove:
			el.Style = "primary"
		case hitl.ActionReject:
			el.Style = "danger"
		}
		out = append(out, el)
	}
	return out
}

func (n *Notifier) post(ctx context.Context, msg slackMessage) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
