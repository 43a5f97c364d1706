package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

const requestColumns = `id, workflow_name, tool_name, original_params, correlation_id, status,
	decided_by, decided_at, decision_payload, created_at, expires_at,
	message_handle, conversation_handle, workflow_result, error_details`

// Store implements approvalstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateRequest(ctx context.Context, req *hitl.Request) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_requests (id, workflow_name, tool_name, original_params, correlation_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.WorkflowName, req.ToolName, string(req.Params), req.CorrelationID,
		string(req.Status), req.CreatedAt.UTC(), req.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create approval request %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*hitl.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, domain.ErrRequestNotFound)
		}
		return nil, fmt.Errorf("get approval request %s: %w", id, err)
	}
	return r, nil
}

// CompareAndSetStatus is a single conditional UPDATE. Under concurrent
// callers exactly one sees a returned row; the others get ErrConflict.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next hitl.Status, t hitl.Transition) (*hitl.Request, error) {
	if !hitl.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrValidation, expected, next)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE approval_requests
		 SET status = $3, decided_by = $4, decided_at = $5, decision_payload = $6, error_details = $7
		 WHERE id = $1 AND status = $2
		 RETURNING `+requestColumns,
		id, string(expected), string(next),
		nullIfEmpty(t.DecidedBy), nullTime(t.DecidedAt), nullRaw(t.Decision), t.ErrorDetail)
	r, err := scanRequest(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update approval request %s: %w", id, err)
	}
	return nil, s.explainMiss(ctx, id, expected)
}

// explainMiss tells a lost race apart from a missing record.
func (s *Store) explainMiss(ctx context.Context, id string, expected hitl.Status) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM approval_requests WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update %s: %w", id, domain.ErrRequestNotFound)
	}
	if err != nil {
		return fmt.Errorf("update approval request %s: %w", id, err)
	}
	return fmt.Errorf("update %s: status is %s, expected %s: %w", id, current, expected, domain.ErrConflict)
}

func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE status = 'pending' AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2`, now.UTC(), clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("list expired approval requests: %w", err)
	}
	return collect(rows)
}

func (s *Store) AttachMessage(ctx context.Context, id, messageHandle, conversationHandle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET message_handle = $2, conversation_handle = $3 WHERE id = $1`,
		id, messageHandle, conversationHandle)
	if err != nil {
		return fmt.Errorf("attach message to %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach message to %s: %w", id, domain.ErrRequestNotFound)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, id string, outcome hitl.Outcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET workflow_result = $2, error_details = $3
		 WHERE id = $1 AND status IN ('approved', 'modified')
		   AND workflow_result IS NULL AND error_details = ''`,
		id, nullRaw(outcome.Result), outcome.ErrorDetail)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
		return fmt.Errorf("record outcome for %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, f hitl.Filter) ([]hitl.Request, error) {
	limit := clampLimit(f.Limit, 50, 500)
	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+requestColumns+` FROM approval_requests WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			string(f.Status), limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+requestColumns+` FROM approval_requests ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return collect(rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func collect(rows pgx.Rows) ([]hitl.Request, error) {
	defer rows.Close()
	var out []hitl.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRequest(row scannable) (*hitl.Request, error) {
	var (
		r                           hitl.Request
		params, status              string
		decidedBy, decision, result *string
		decidedAt                   *time.Time
	)
	err := row.Scan(&r.ID, &r.WorkflowName, &r.ToolName, &params, &r.CorrelationID, &status,
		&decidedBy, &decidedAt, &decision, &r.CreatedAt, &r.ExpiresAt,
		&r.MessageHandle, &r.ConversationHandle, &result, &r.ErrorDetail)
	if err != nil {
		return nil, err
	}
	r.Params = json.RawMessage(params)
	r.Status = hitl.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	if decidedBy != nil {
		r.DecidedBy = *decidedBy
	}
	if decidedAt != nil {
		t := decidedAt.UTC()
		r.DecidedAt = &t
	}
	if decision != nil {
		r.Decision = json.RawMessage(*decision)
	}
	if result != nil {
		r.Result = json.RawMessage(*result)
	}
	return &r, nil
}
