package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

const requestColumns = `id, workflow_name, tool_name, original_params, correlation_id, status,
	decided_by, decided_at, decision_payload, created_at, expires_at,
	message_handle, conversation_handle, workflow_result, error_details`

// Store implements approvalstore.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateRequest(ctx context.Context, req *hitl.Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, workflow_name, tool_name, original_params, correlation_id, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.WorkflowName, req.ToolName, string(req.Params), req.CorrelationID,
		string(req.Status), formatTime(req.CreatedAt), formatTime(req.ExpiresAt))
	if err != nil {
		return fmt.Errorf("sqlite: create approval request %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*hitl.Request, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get approval request %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next hitl.Status, t hitl.Transition) (*hitl.Request, error) {
	if !hitl.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrValidation, expected, next)
	}
	var decidedAt any
	if !t.DecidedAt.IsZero() {
		decidedAt = formatTime(t.DecidedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests
		 SET status = ?, decided_by = ?, decided_at = ?, decision_payload = ?, error_details = ?
		 WHERE id = ? AND status = ?`,
		string(next), nullIfEmpty(t.DecidedBy), decidedAt, nullRaw(t.Decision), t.ErrorDetail,
		id, string(expected))
	if err != nil {
		return nil, fmt.Errorf("sqlite: update approval request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update approval request %s: %w", id, err)
	}
	current, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update %s: status is %s, expected %s: %w", id, current.Status, expected, domain.ErrConflict)
	}
	return current, nil
}

func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE status = 'pending' AND expires_at <= ?
		 ORDER BY expires_at LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expired approval requests: %w", err)
	}
	return collect(rows)
}

func (s *Store) AttachMessage(ctx context.Context, id, messageHandle, conversationHandle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET message_handle = ?, conversation_handle = ? WHERE id = ?`,
		messageHandle, conversationHandle, id)
	if err != nil {
		return fmt.Errorf("sqlite: attach message to %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attach message to %s: %w", id, domain.ErrRequestNotFound)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, id string, outcome hitl.Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET workflow_result = ?, error_details = ?
		 WHERE id = ? AND status IN ('approved', 'modified')
		   AND workflow_result IS NULL AND error_details = ''`,
		nullRaw(outcome.Result), outcome.ErrorDetail, id)
	if err != nil {
		return fmt.Errorf("sqlite: record outcome for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
		return fmt.Errorf("record outcome for %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, f hitl.Filter) ([]hitl.Request, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var (
		rows *sql.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+requestColumns+` FROM approval_requests WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
			string(f.Status), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+requestColumns+` FROM approval_requests ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: list approval requests: %w", err)
	}
	return collect(rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func collect(rows *sql.Rows) ([]hitl.Request, error) {
	defer func() { _ = rows.Close() }()
	var out []hitl.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan approval request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*hitl.Request, error) {
	var (
		r                                      hitl.Request
		params, status, createdAt, expiresAt   string
		decidedBy, decidedAt, decision, result sql.NullString
	)
	err := row.Scan(&r.ID, &r.WorkflowName, &r.ToolName, &params, &r.CorrelationID, &status,
		&decidedBy, &decidedAt, &decision, &createdAt, &expiresAt,
		&r.MessageHandle, &r.ConversationHandle, &result, &r.ErrorDetail)
	if err != nil {
		return nil, err
	}
	r.Params = json.RawMessage(params)
	r.Status = hitl.Status(status)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	r.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decided_at: %w", err)
		}
		r.DecidedAt = &t
	}
	if decision.Valid {
		r.Decision = json.RawMessage(decision.String)
	}
	if result.Valid {
		r.Result = json.RawMessage(result.String)
	}
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
