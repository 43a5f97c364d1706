// Package telegram implements the notifier port with a Telegram bot. Decision
// prompts carry inline buttons whose callback data is posted back to the
// gateway's Telegram webhook.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/notifier"
)

const (
	defaultEndpoint = tgbotapi.APIEndpoint
	callTimeout     = 15 * time.Second
)

// Notifier sends decision prompts to a Telegram chat.
type Notifier struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a Telegram notifier. The bot is connected lazily on first use
// so that startup does not depend on Telegram being reachable.
func New(token, chatID, endpoint string, client *http.Client) *Notifier {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	// Share the pooled transport but bound every Bot API call.
	bounded := &http.Client{Transport: client.Transport, Timeout: callTimeout}
	return &Notifier{token: token, chatID: chatID, endpoint: endpoint, client: bounded}
}

func (n *Notifier) Name() string { return "telegram" }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Actions: true, Updates: true}
}

func (n *Notifier) connect() (*tgbotapi.BotAPI, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.bot != nil {
		return n.bot, nil
	}
	if n.token == "" {
		return nil, notifier.ErrNotConfigured
	}
	bot, err := tgbotapi.NewBotAPIWithClient(n.token, n.endpoint, n.client)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	n.bot = bot
	return bot, nil
}

// Send posts text to target (or the configured chat) with one button per
// action.
func (n *Notifier) Send(ctx context.Context, target, text string, actions []notifier.Action) (notifier.Handle, error) {
	if err := ctx.Err(); err != nil {
		return notifier.Handle{}, err
	}
	bot, err := n.connect()
	if err != nil {
		return notifier.Handle{}, err
	}
	chatID, err := n.resolveChat(target)
	if err != nil {
		return notifier.Handle{}, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(actions) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
		for _, a := range actions {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	sent, err := bot.Send(msg)
	if err != nil {
		return notifier.Handle{}, fmt.Errorf("telegram send: %w", err)
	}
	conv := strconv.FormatInt(chatID, 10)
	if sent.Chat != nil {
		conv = strconv.FormatInt(sent.Chat.ID, 10)
	}
	return notifier.Handle{MessageID: strconv.Itoa(sent.MessageID), Conversation: conv}, nil
}

// SendUpdate edits the original prompt in place, which also removes its
// buttons.
func (n *Notifier) SendUpdate(ctx context.Context, target string, handle notifier.Handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := n.connect()
	if err != nil {
		return err
	}
	conv := handle.Conversation
	if conv == "" {
		conv = target
	}
	chatID, err := n.resolveChat(conv)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(handle.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", handle.MessageID, err)
	}
	if _, err := bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// DecodeCallback implements notifier.CallbackDecoder for Bot API updates.
func (n *Notifier) DecodeCallback(body []byte) (hitl.Callback, string, bool, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return hitl.Callback{}, "", false, fmt.Errorf("telegram: decode update: %w", err)
	}
	q := update.CallbackQuery
	if q == nil || !strings.HasPrefix(q.Data, "hitl_") {
		return hitl.Callback{}, "", false, nil
	}
	action, id, err := hitl.DecodeCallbackData(q.Data)
	if err != nil {
		return hitl.Callback{}, q.ID, false, err
	}
	return hitl.Callback{
		Action:    string(action),
		RequestID: id,
		ActorID:   actorID(q.From),
	}, q.ID, true, nil
}

// AckCallback answers the callback query.
func (n *Notifier) AckCallback(ctx context.Context, ackID, text string) error {
	if ackID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := n.connect()
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewCallback(ackID, text)); err != nil {
		return fmt.Errorf("telegram answer callback: %w", err)
	}
	return nil
}

func (n *Notifier) resolveChat(target string) (int64, error) {
	if strings.TrimSpace(target) == "" {
		target = n.chatID
	}
	id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", target, err)
	}
	return id, nil
}

func actorID(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "telegram:@" + u.UserName
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}

// Ensure Notifier implements the notifier ports.
var (
	_ notifier.Notifier        = (*Notifier)(nil)
	_ notifier.CallbackDecoder = (*Notifier)(nil)
)
