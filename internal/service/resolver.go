package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
)

// Resolution outcomes reported to the channel that delivered a decision.
const (
	OutcomeAccepted       = "accepted"
	OutcomeAlreadyDecided = "already_decided"
	OutcomeExpired        = "expired"
)

// Resolution describes what a decision callback did.
type Resolution struct {
	RequestID string      `json:"requestId"`
	Status    hitl.Status `json:"status"`
	Outcome   string      `json:"outcome"`
}

// ResumeScheduler runs the follow-up of a decided request asynchronously.
type ResumeScheduler interface {
	Schedule(ctx context.Context, req *hitl.Request)
}

// Resolver applies human decisions to pending requests.
type Resolver struct {
	lifecycle
	secret  string
	resumer ResumeScheduler
	now     func() time.Time
}

// NewResolver creates a resolver. secret authenticates the generic webhook;
// an empty secret rejects every token.
func NewResolver(store approvalstore.Store, notify *NotificationService, events *EventPublisher, resumer ResumeScheduler, secret string) *Resolver {
	return &Resolver{
		lifecycle: lifecycle{store: store, notify: notify, events: events},
		secret:    secret,
		resumer:   resumer,
		now:       time.Now,
	}
}

// SetMetrics sets the metric instruments.
func (r *Resolver) SetMetrics(m *fgotel.Metrics) { r.metrics = m }

// Authenticate compares token with the webhook secret in constant time.
func (r *Resolver) Authenticate(token string) bool {
	if r.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) == 1
}

// Resolve authenticates token, then applies cb.
func (r *Resolver) Resolve(ctx context.Context, cb hitl.Callback, token string) (Resolution, error) {
	if !r.Authenticate(token) {
		slog.Warn("decision callback rejected: bad token", "request_id", cb.RequestID)
		return Resolution{}, &domain.Error{Kind: domain.KindUnauthorized, Err: domain.ErrUnauthorized}
	}
	return r.ResolveTrusted(ctx, cb)
}

// ResolveTrusted applies cb from a channel authenticated elsewhere. A
// decision that lost the race, or arrived after expiry, returns its
// Resolution together with an AlreadyDecided or Expired error.
func (r *Resolver) ResolveTrusted(ctx context.Context, cb hitl.Callback) (Resolution, error) {
	ctx, span := fgotel.StartDecisionSpan(ctx, cb.RequestID, cb.Action)
	res, err := r.resolve(ctx, cb)
	switch domain.KindOf(err) {
	case domain.KindAlreadyDecided, domain.KindExpired:
		fgotel.EndSpan(span, nil)
	default:
		fgotel.EndSpan(span, err)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, cb hitl.Callback) (Resolution, error) {
	d, err := hitl.ParseCallback(cb)
	if err != nil {
		return Resolution{}, &domain.Error{Kind: domain.KindMalformedCallback, Detail: err.Error(), Err: err}
	}

	req, err := r.store.GetRequest(ctx, d.RequestID)
	if err != nil {
		return Resolution{}, storeError(err)
	}
	if req.Status != hitl.StatusPending {
		return r.alreadyDecided(req, d)
	}

	now := r.now()
	if req.Expired(now) {
		expired, err := r.expire(ctx, req, now)
		if errors.Is(err, domain.ErrConflict) {
			return r.reload(ctx, d)
		}
		if err != nil {
			return Resolution{}, storeError(err)
		}
		slog.Info("decision arrived after expiry", "request_id", req.ID, "actor", d.Actor, "action", d.Action)
		return Resolution{RequestID: req.ID, Status: expired.Status, Outcome: OutcomeExpired},
			&domain.Error{Kind: domain.KindExpired, Err: domain.ErrExpired}
	}

	updated, err := r.store.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, d.TargetStatus(), d.Transition(now))
	if errors.Is(err, domain.ErrConflict) {
		return r.reload(ctx, d)
	}
	if err != nil {
		return Resolution{}, storeError(err)
	}

	slog.Info("approval decided",
		"request_id", updated.ID,
		"workflow", updated.WorkflowName,
		"status", updated.Status,
		"actor", updated.DecidedBy,
	)
	r.metrics.RecordApprovalResolved(ctx, updated.WorkflowName, string(updated.Status))
	r.events.Publish(ctx, hitl.EventDecided, updated)
	if r.resumer != nil {
		r.resumer.Schedule(ctx, updated)
	}
	return Resolution{RequestID: updated.ID, Status: updated.Status, Outcome: OutcomeAccepted}, nil
}

// reload reports the state that won a lost compare-and-set.
func (r *Resolver) reload(ctx context.Context, d hitl.Decision) (Resolution, error) {
	req, err := r.store.GetRequest(ctx, d.RequestID)
	if err != nil {
		return Resolution{}, storeError(err)
	}
	return r.alreadyDecided(req, d)
}

func (r *Resolver) alreadyDecided(req *hitl.Request, d hitl.Decision) (Resolution, error) {
	slog.Info("decision ignored: request already decided",
		"request_id", req.ID,
		"status", req.Status,
		"actor", d.Actor,
		"action", d.Action,
	)
	return Resolution{RequestID: req.ID, Status: req.Status, Outcome: OutcomeAlreadyDecided},
		&domain.Error{Kind: domain.KindAlreadyDecided, Err: domain.ErrAlreadyDecided}
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrRequestNotFound) || errors.Is(err, domain.ErrNotFound) {
		return &domain.Error{Kind: domain.KindRequestNotFound, Err: domain.ErrRequestNotFound}
	}
	return &domain.Error{Kind: domain.KindBackendUnavailable, Detail: "approval store unavailable", Err: err}
}
