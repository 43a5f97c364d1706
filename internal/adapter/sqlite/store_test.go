package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "flowgate.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createPending(t *testing.T, s *Store, created, expires time.Time) *hitl.Request {
	t.Helper()
	req, err := hitl.NewRequest("create_and_send_facture", "create_and_send_facture",
		json.RawMessage(`{"montant": 2500,"qualification_id":"q-1"}`), "corr-1", created, expires)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := s.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgate.db")
	for range 2 {
		s, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		_ = s.Close()
	}
}

func TestCreateAndGet(t *testing.T) {
	s := openStore(t)
	req := createPending(t, s, base, base.Add(30*time.Minute))

	got, err := s.GetRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if string(got.Params) != string(req.Params) {
		t.Errorf("params not byte-identical: %s", got.Params)
	}
	if got.Status != hitl.StatusPending || !got.CreatedAt.Equal(base) || !got.ExpiresAt.Equal(base.Add(30*time.Minute)) {
		t.Errorf("unexpected record %+v", got)
	}
	if got.DecidedAt != nil || got.Decision != nil || got.Result != nil {
		t.Errorf("undecided record carries decision fields: %+v", got)
	}

	if _, err := s.GetRequest(context.Background(), "missing"); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	req := createPending(t, s, base, base.Add(time.Hour))

	decided := base.Add(10 * time.Minute)
	got, err := s.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, hitl.StatusModified, hitl.Transition{
		DecidedBy: "ops",
		DecidedAt: decided,
		Decision:  json.RawMessage(`{"action":"modify","modifiedParams":{"montant":900}}`),
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if got.Status != hitl.StatusModified || got.DecidedBy != "ops" || got.DecidedAt == nil || !got.DecidedAt.Equal(decided) {
		t.Errorf("unexpected record %+v", got)
	}
	if string(got.ReplayParams()) != `{"montant":900}` {
		t.Errorf("ReplayParams = %s", got.ReplayParams())
	}

	_, err = s.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, hitl.StatusTimedOut, hitl.Transition{DecidedAt: decided})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second CAS: expected ErrConflict, got %v", err)
	}

	_, err = s.CompareAndSetStatus(ctx, "missing", hitl.StatusPending, hitl.StatusApproved, hitl.Transition{})
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("missing: expected ErrRequestNotFound, got %v", err)
	}

	_, err = s.CompareAndSetStatus(ctx, req.ID, hitl.StatusModified, hitl.StatusApproved, hitl.Transition{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("illegal transition: expected ErrValidation, got %v", err)
	}
}

func TestCompareAndSetSingleWinner(t *testing.T) {
	s := openStore(t)
	req := createPending(t, s, base, base.Add(time.Hour))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := hitl.StatusApproved
			if i%2 == 0 {
				next = hitl.StatusTimedOut
			}
			_, err := s.CompareAndSetStatus(context.Background(), req.ID, hitl.StatusPending, next, hitl.Transition{DecidedAt: base})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestListExpiredPending(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	old := createPending(t, s, base, base.Add(time.Minute))
	older := createPending(t, s, base, base.Add(30*time.Second))
	_ = createPending(t, s, base, base.Add(time.Hour))
	decided := createPending(t, s, base, base.Add(time.Second))
	if _, err := s.CompareAndSetStatus(ctx, decided.ID, hitl.StatusPending, hitl.StatusRejected, hitl.Transition{DecidedAt: base}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListExpiredPending(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListExpiredPending: %v", err)
	}
	if len(list) != 2 || list[0].ID != older.ID || list[1].ID != old.ID {
		t.Fatalf("unexpected expired list %+v", list)
	}

	limited, err := s.ListExpiredPending(ctx, base.Add(time.Minute), 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit not applied: %d, %v", len(limited), err)
	}
}

func TestAttachMessageAndOutcome(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	req := createPending(t, s, base, base.Add(time.Hour))

	if err := s.AttachMessage(ctx, req.ID, "1234", "-100200"); err != nil {
		t.Fatalf("AttachMessage: %v", err)
	}
	if err := s.AttachMessage(ctx, "missing", "1", "2"); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{Result: json.RawMessage(`{}`)}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("outcome on pending: expected ErrConflict, got %v", err)
	}

	if _, err := s.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, hitl.StatusApproved, hitl.Transition{DecidedBy: "u1", DecidedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{ErrorDetail: "BackendTimeout"}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{Result: json.RawMessage(`{}`)}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second outcome: expected ErrConflict, got %v", err)
	}

	got, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageHandle != "1234" || got.ConversationHandle != "-100200" || got.ErrorDetail != "BackendTimeout" || got.Result != nil {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestListRequests(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	first := createPending(t, s, base, base.Add(time.Hour))
	second := createPending(t, s, base.Add(time.Minute), base.Add(time.Hour))
	if _, err := s.CompareAndSetStatus(ctx, first.ID, hitl.StatusPending, hitl.StatusApproved, hitl.Transition{DecidedAt: base}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListRequests(ctx, hitl.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	pending, err := s.ListRequests(ctx, hitl.Filter{Status: hitl.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("unexpected pending list %+v", pending)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
