package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/flowgate/internal/adapter/postgres"
	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 10})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func newPending(t *testing.T, s *postgres.Store, expiresIn time.Duration) *hitl.Request {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	created := now
	if expiresIn <= 0 {
		created = now.Add(expiresIn - time.Minute)
	}
	req, err := hitl.NewRequest("create_and_send_facture", "create_and_send_facture",
		json.RawMessage(`{"montant": 2500, "qualification_id": "q-1"}`), "corr-1", created, now.Add(expiresIn))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := s.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	return req
}

func TestStore_CreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := newPending(t, s, 30*time.Minute)

	got, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != hitl.StatusPending || got.WorkflowName != req.WorkflowName || got.CorrelationID != "corr-1" {
		t.Errorf("unexpected record %+v", got)
	}
	if string(got.Params) != string(req.Params) {
		t.Errorf("params not byte-identical: %s", got.Params)
	}

	if _, err := s.GetRequest(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestStore_CompareAndSetExactlyOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := newPending(t, s, 30*time.Minute)

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := hitl.StatusApproved
			if i%2 == 1 {
				next = hitl.StatusTimedOut
			}
			_, err := s.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, next, hitl.Transition{DecidedAt: time.Now()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflict != writers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflict)
	}
}

func TestStore_CompareAndSetMissing(t *testing.T) {
	s := setupStore(t)
	_, err := s.CompareAndSetStatus(context.Background(), "00000000-0000-0000-0000-000000000001",
		hitl.StatusPending, hitl.StatusApproved, hitl.Transition{DecidedAt: time.Now()})
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestStore_ListExpiredPending(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	expired := newPending(t, s, -time.Second)
	fresh := newPending(t, s, time.Hour)

	list, err := s.ListExpiredPending(ctx, time.Now(), 1000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sawExpired bool
	for _, r := range list {
		if r.ID == fresh.ID {
			t.Error("fresh request listed as expired")
		}
		if r.ID == expired.ID {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Error("expired request not listed")
	}
}

func TestStore_RecordOutcomeOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := newPending(t, s, time.Hour)

	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{Result: json.RawMessage(`{}`)}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("pending record must not accept an outcome, got %v", err)
	}
	if _, err := s.CompareAndSetStatus(ctx, req.ID, hitl.StatusPending, hitl.StatusApproved,
		hitl.Transition{DecidedBy: "ops", DecidedAt: time.Now()}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := s.AttachMessage(ctx, req.ID, "42", "-100"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{Result: json.RawMessage(`{"id":"f-1"}`)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordOutcome(ctx, req.ID, hitl.Outcome{ErrorDetail: "again"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second outcome: expected ErrConflict, got %v", err)
	}

	got, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DecidedBy != "ops" || got.MessageHandle != "42" || string(got.Result) != `{"id":"f-1"}` {
		t.Errorf("unexpected record %+v", got)
	}
}
