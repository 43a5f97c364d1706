package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/policy"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
	"github.com/Strob0t/flowgate/internal/port/cache"
)

// HistoryLookup reports whether an entity referenced by a workflow already
// has prior records.
type HistoryLookup interface {
	HasPriorRecords(ctx context.Context, ref, requestID string) (bool, error)
}

// ApprovalGate suspends workflow invocations that the approval policy
// flags, persisting them as pending requests.
type ApprovalGate struct {
	policy  *policy.Policy
	store   approvalstore.Store
	notify  *NotificationService
	events  *EventPublisher
	metrics *fgotel.Metrics

	enabled bool
	timeout time.Duration

	history  HistoryLookup
	cache    cache.Cache
	cacheTTL time.Duration
	group    singleflight.Group

	now func() time.Time
}

// NewApprovalGate creates the gate from the HITL configuration.
func NewApprovalGate(p *policy.Policy, store approvalstore.Store, notify *NotificationService, events *EventPublisher, cfg config.HITL) *ApprovalGate {
	return &ApprovalGate{
		policy:  p,
		store:   store,
		notify:  notify,
		events:  events,
		enabled: cfg.Enabled,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
}

// SetHistory enables entity history lookups for first-record rules.
// c may be nil to disable caching.
func (g *ApprovalGate) SetHistory(h HistoryLookup, c cache.Cache, ttl time.Duration) {
	g.history = h
	g.cache = c
	g.cacheTTL = ttl
}

// SetMetrics sets the metric instruments.
func (g *ApprovalGate) SetMetrics(m *fgotel.Metrics) { g.metrics = m }

// PolicyFromConfig converts configured rules into a validated policy.
func PolicyFromConfig(rules []config.Rule) (*policy.Policy, error) {
	return policy.New(convertRules(rules))
}

func convertRules(rules []config.Rule) []policy.Rule {
	out := make([]policy.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, policy.Rule{
			Name:      r.Name,
			Kind:      policy.Kind(r.Kind),
			Workflows: r.Workflows,
			Field:     r.Field,
			Threshold: r.Threshold,
			Value:     r.Value,
			Rules:     convertRules(r.Rules),
		})
	}
	return out
}

// RequiresApproval resolves the facts the policy needs and evaluates it.
func (g *ApprovalGate) RequiresApproval(ctx context.Context, workflow string, params json.RawMessage, requestID string) (policy.EvaluationResult, error) {
	values, err := decodeParams(params)
	if err != nil {
		return policy.EvaluationResult{}, err
	}
	facts := g.facts(ctx, g.policy.References(workflow, values), requestID)
	return g.policy.Evaluate(workflow, values, facts), nil
}

// Check runs the gate for inv. It returns nil when the workflow may
// proceed, or the pending result after the request was persisted and the
// prompt sent.
func (g *ApprovalGate) Check(ctx context.Context, inv tool.Invocation) (*hitl.Pending, error) {
	if !g.enabled || inv.Resumed {
		return nil, nil
	}
	ctx, span := fgotel.StartGateSpan(ctx, inv.Tool)
	pending, err := g.check(ctx, inv)
	fgotel.EndSpan(span, err)
	return pending, err
}

func (g *ApprovalGate) check(ctx context.Context, inv tool.Invocation) (*hitl.Pending, error) {
	res, err := g.RequiresApproval(ctx, inv.Tool, inv.Params, inv.RequestID)
	if err != nil {
		return nil, err
	}
	if !res.RequiresApproval {
		slog.Debug("approval not required", "workflow", inv.Tool, "request_id", inv.RequestID)
		return nil, nil
	}

	now := g.now()
	req, err := hitl.NewRequest(inv.Tool, inv.Tool, inv.Params, inv.RequestID, now, now.Add(g.timeout))
	if err != nil {
		return nil, err
	}
	if err := g.store.CreateRequest(ctx, req); err != nil {
		return nil, &domain.Error{
			Kind:   domain.KindBackendUnavailable,
			Detail: "approval store unavailable",
			Err:    fmt.Errorf("create approval request: %w", err),
		}
	}

	slog.Info("approval requested",
		"request_id", req.ID,
		"workflow", req.WorkflowName,
		"reason", res.Reason,
		"expires_at", req.ExpiresAt,
		"correlation_id", inv.RequestID,
	)
	g.metrics.RecordApprovalCreated(ctx, req.WorkflowName)
	g.events.Publish(ctx, hitl.EventCreated, req)
	g.notify.Prompt(ctx, req)
	return hitl.NewPending(req), nil
}

// facts resolves the history of each referenced entity. Lookups are
// deduplicated across concurrent calls and existing history is cached. A
// failed lookup stays unknown, which the policy treats as requiring approval.
func (g *ApprovalGate) facts(ctx context.Context, refs []string, requestID string) policy.Facts {
	facts := policy.Facts{History: make(map[string]policy.History, len(refs))}
	for _, ref := range refs {
		facts.History[ref] = g.lookup(ctx, ref, requestID)
	}
	return facts
}

func (g *ApprovalGate) lookup(ctx context.Context, ref, requestID string) policy.History {
	if g.history == nil {
		return policy.HistoryUnknown
	}
	key := "gate:history:" + ref
	if g.cache != nil {
		if v, ok, err := g.cache.Get(ctx, key); err == nil && ok && string(v) == "1" {
			return policy.HistoryExists
		}
	}

	v, err, _ := g.group.Do(ref, func() (any, error) {
		return g.history.HasPriorRecords(ctx, ref, requestID)
	})
	if err != nil {
		slog.Warn("history lookup failed, requiring approval", "ref", ref, "request_id", requestID, "error", err)
		return policy.HistoryUnknown
	}
	if exists, _ := v.(bool); !exists {
		// Not cached: the first record may be created moments from now.
		return policy.HistoryNone
	}
	if g.cache != nil {
		if err := g.cache.Set(ctx, key, []byte("1"), g.cacheTTL); err != nil {
			slog.Debug("cache history failed", "ref", ref, "error", err)
		}
	}
	return policy.HistoryExists
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: params must be a JSON object", domain.ErrValidation)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
