package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/resilience"
)

// RetryingClient retries transient backend failures with capped
// exponential backoff. Client errors and validation failures are returned
// after the first attempt.
type RetryingClient struct {
	inner   backend.Client
	policy  resilience.RetryPolicy
	metrics *fgotel.Metrics
}

// NewRetryingClient wraps inner with policy. metrics may be nil.
func NewRetryingClient(inner backend.Client, policy resilience.RetryPolicy, metrics *fgotel.Metrics) *RetryingClient {
	return &RetryingClient{inner: inner, policy: policy, metrics: metrics}
}

func (c *RetryingClient) Do(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	return resilience.Retry(ctx, c.policy, backend.IsTransient,
		func(attempt int, delay time.Duration, err error) {
			slog.Warn("backend call failed, retrying",
				"backend", req.Backend,
				"path", req.Path,
				"attempt", attempt,
				"delay", delay,
				"request_id", req.RequestID,
				"error", err,
			)
			c.metrics.RecordRetry(ctx, string(req.Backend))
		},
		func(ctx context.Context) (json.RawMessage, error) {
			return c.inner.Do(ctx, req)
		},
	)
}

var _ backend.Client = (*RetryingClient)(nil)
