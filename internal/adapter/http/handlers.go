package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/logger"
	"github.com/Strob0t/flowgate/internal/port/notifier"
	"github.com/Strob0t/flowgate/internal/service"
)

// HeaderWebhookToken authenticates the generic decision webhook.
const HeaderWebhookToken = "X-Webhook-Token"

// ToolDispatcher runs tool invocations.
type ToolDispatcher interface {
	Tools() []tool.Descriptor
	Dispatch(ctx context.Context, inv tool.Invocation) (any, error)
}

// DecisionResolver applies decision callbacks.
type DecisionResolver interface {
	Authenticate(token string) bool
	Resolve(ctx context.Context, cb hitl.Callback, token string) (service.Resolution, error)
	ResolveTrusted(ctx context.Context, cb hitl.Callback) (service.Resolution, error)
}

// ApprovalReader serves the admin listing.
type ApprovalReader interface {
	List(ctx context.Context, f hitl.Filter) ([]hitl.Request, error)
	Get(ctx context.Context, id string) (*hitl.Request, error)
	Ping(ctx context.Context) error
}

// ExpirySweeper runs a sweep on demand.
type ExpirySweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// QueueStatus reports the event bus connection.
type QueueStatus interface {
	IsConnected() bool
}

// Handlers holds the HTTP handlers and the services they call. Channel and
// Queue may be nil.
type Handlers struct {
	Tools     ToolDispatcher
	Decisions DecisionResolver
	Approvals ApprovalReader
	Sweeper   ExpirySweeper
	Channel   notifier.Notifier
	Queue     QueueStatus
	Version   string
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

type toolCallRequest struct {
	ToolID string          `json:"toolId"`
	Params json.RawMessage `json:"params"`
}

type toolCallResponse struct {
	Result any `json:"result"`
}

type toolInfo struct {
	Name        string          `json:"name"`
	Category    tool.Category   `json:"category"`
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ListTools handles GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	descs := h.Tools.Tools()
	out := make([]toolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolInfo{
			Name:        d.Name,
			Category:    d.Category,
			Summary:     d.Summary,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CallTool handles POST /api/v1/tools/call. A gated workflow answers 202
// with the pending result instead of {result}.
func (h *Handlers) CallTool(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[toolCallRequest](w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !requireField(w, req.ToolID, "toolId") {
		return
	}
	requestID := logger.RequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result, err := h.Tools.Dispatch(r.Context(), tool.Invocation{
		Tool:      req.ToolID,
		Params:    req.Params,
		RequestID: requestID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p, ok := result.(*hitl.Pending); ok {
		writeJSON(w, http.StatusAccepted, p)
		return
	}
	writeJSON(w, http.StatusOK, toolCallResponse{Result: result})
}

// ---------------------------------------------------------------------------
// Decision webhooks
// ---------------------------------------------------------------------------

// HandleDecisionWebhook handles POST /api/v1/webhooks/hitl. The token is
// checked before the body is read. Late and duplicate decisions answer 200
// so the sender does not retry them.
func (h *Handlers) HandleDecisionWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(HeaderWebhookToken)
	if !h.Decisions.Authenticate(token) {
		writeDomainError(w, &domain.Error{Kind: domain.KindUnauthorized, Err: domain.ErrUnauthorized})
		return
	}
	cb, err := readJSON[hitl.Callback](w, r)
	if err != nil {
		writeDomainError(w, malformedCallback(err))
		return
	}
	res, err := h.Decisions.Resolve(r.Context(), cb, token)
	switch domain.KindOf(err) {
	case "":
		if err != nil {
			writeInternalError(w, err)
			return
		}
	case domain.KindAlreadyDecided, domain.KindExpired:
	default:
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleTelegramWebhook handles POST /api/v1/webhooks/telegram. Telegram
// redelivers anything that is not a 2xx, so every decoded update is
// answered 200 and outcomes are reported on the button instead.
func (h *Handlers) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	decoder, ok := h.Channel.(notifier.CallbackDecoder)
	if !ok {
		writeError(w, http.StatusNotFound, "telegram channel not active")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cb, ackID, ok, err := decoder.DecodeCallback(body)
	switch {
	case err != nil && ackID == "":
		writeError(w, http.StatusBadRequest, "invalid update")
		return
	case err != nil:
		slog.Warn("telegram callback rejected", "error", err)
		h.ack(r.Context(), decoder, ackID, "Unknown action")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case !ok:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := h.Decisions.ResolveTrusted(r.Context(), cb)
	h.ack(r.Context(), decoder, ackID, ackText(res, err))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// malformedCallback reports an undecodable webhook body as MalformedCallback.
// Oversized bodies keep their 413.
func malformedCallback(err error) error {
	var de *domain.Error
	if errors.As(err, &de) && de.Status == http.StatusBadRequest {
		return &domain.Error{Kind: domain.KindMalformedCallback, Detail: de.Detail, Err: domain.ErrMalformedCallback}
	}
	return err
}

func (h *Handlers) ack(ctx context.Context, d notifier.CallbackDecoder, ackID, text string) {
	if err := d.AckCallback(ctx, ackID, text); err != nil {
		slog.Warn("telegram callback answer failed", "error", err)
	}
}

func ackText(res service.Resolution, err error) string {
	switch domain.KindOf(err) {
	case "":
		if err != nil {
			return "Decision could not be recorded"
		}
		switch res.Status {
		case hitl.StatusApproved, hitl.StatusModified:
			return "Approved"
		case hitl.StatusRejected:
			return "Rejected"
		}
		return "Recorded"
	case domain.KindAlreadyDecided:
		return "Already decided: " + string(res.Status)
	case domain.KindExpired:
		return "This request has expired"
	case domain.KindRequestNotFound:
		return "Unknown request"
	}
	return "Decision could not be recorded"
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// ListApprovals handles GET /api/v1/approvals?status=&limit=
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	f := hitl.Filter{Status: hitl.Status(r.URL.Query().Get("status")), Limit: 50}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		f.Limit = n
	}
	reqs, err := h.Approvals.List(r.Context(), f)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeDomainError(w, err)
			return
		}
		writeInternalError(w, err)
		return
	}
	if reqs == nil {
		reqs = []hitl.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// GetApproval handles GET /api/v1/approvals/{id}
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.Approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// SweepApprovals handles POST /api/v1/approvals/sweep
func (h *Handlers) SweepApprovals(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		slog.Error("manual sweep failed", "expired", n, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"expired": n, "error": "sweep incomplete"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthStatus struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	NATS    string `json:"nats"`
	Channel string `json:"channel"`
	Version string `json:"version,omitempty"`
}

// Health handles GET /health. The store is required; NATS and the channel
// are reported but never fail the check.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{Status: "ok", Store: "ok", NATS: "disabled", Channel: "log", Version: h.Version}
	code := http.StatusOK
	if err := h.Approvals.Ping(r.Context()); err != nil {
		slog.Warn("health: store ping failed", "error", err)
		st.Status, st.Store = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
	}
	if h.Queue != nil {
		st.NATS = "connected"
		if !h.Queue.IsConnected() {
			st.NATS = "disconnected"
		}
	}
	if h.Channel != nil {
		st.Channel = h.Channel.Name()
	}
	writeJSON(w, code, st)
}
