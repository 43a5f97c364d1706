package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/flowgate/internal/adapter/ristretto"
	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
)

var gateNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type countingHistory struct {
	calls   atomic.Int32
	exists  bool
	err     error
	release chan struct{}
}

func (h *countingHistory) HasPriorRecords(context.Context, string, string) (bool, error) {
	h.calls.Add(1)
	if h.release != nil {
		<-h.release
	}
	return h.exists, h.err
}

func newTestGate(t *testing.T, store *memStore, n *fakeNotifier, q *fakeQueue) *ApprovalGate {
	t.Helper()
	p, err := PolicyFromConfig(config.DefaultRules())
	if err != nil {
		t.Fatalf("PolicyFromConfig: %v", err)
	}
	notify := NewNotificationService(nil, "", store)
	if n != nil {
		notify = NewNotificationService(n, "chat-1", store)
	}
	var events *EventPublisher
	if q != nil {
		events = NewEventPublisher(q)
	}
	g := NewApprovalGate(p, store, notify, events, config.HITL{Enabled: true, Timeout: 30 * time.Minute})
	g.now = func() time.Time { return gateNow }
	return g
}

func invoiceInv(params string) tool.Invocation {
	return tool.Invocation{Tool: "create_and_send_facture", Params: json.RawMessage(params), RequestID: "req-1"}
}

func TestGateThreshold(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	q := &fakeQueue{}
	g := newTestGate(t, store, n, q)
	g.SetHistory(&countingHistory{exists: true}, nil, 0)

	res, err := g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":2500,"qualification_id":"q-1"}`), "")
	if err != nil || !res.RequiresApproval {
		t.Fatalf("RequiresApproval = %+v, %v", res, err)
	}

	params := `{"montant": 2500, "qualification_id": "q-1"}`
	pending, err := g.Check(context.Background(), invoiceInv(params))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if pending == nil || pending.Status != hitl.PendingStatus {
		t.Fatalf("expected pending result, got %+v", pending)
	}
	if want := gateNow.Add(30 * time.Minute); !pending.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %s, want %s", pending.ExpiresAt, want)
	}

	rec := store.get(pending.RequestID)
	if rec.Status != hitl.StatusPending || string(rec.Params) != params || rec.CorrelationID != "req-1" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.MessageHandle != "m-1" || rec.ConversationHandle != "chat-1" {
		t.Errorf("handles not attached: %+v", rec)
	}
	if len(n.sent) != 1 || len(n.actions[0]) != 2 {
		t.Fatalf("expected one prompt with two actions, got %d", len(n.sent))
	}
	if got := q.published(); len(got) != 1 || got[0] != "hitl.events.created" {
		t.Errorf("published %v", got)
	}
}

func TestGateBelowThresholdKnownCustomer(t *testing.T) {
	store := newMemStore()
	g := newTestGate(t, store, nil, nil)
	g.SetHistory(&countingHistory{exists: true}, nil, 0)

	pending, err := g.Check(context.Background(), invoiceInv(`{"montant":900,"qualification_id":"q-1"}`))
	if err != nil || pending != nil {
		t.Fatalf("expected pass-through, got %+v, %v", pending, err)
	}
	if store.created != 0 {
		t.Error("no record may be created")
	}
}

func TestGateFirstInvoice(t *testing.T) {
	tests := []struct {
		name    string
		history *countingHistory
		want    bool
	}{
		{"prior invoices", &countingHistory{exists: true}, false},
		{"first invoice", &countingHistory{exists: false}, true},
		{"lookup failed", &countingHistory{err: errors.New("rpc down")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, newMemStore(), nil, nil)
			g.SetHistory(tt.history, nil, 0)
			res, err := g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":100,"qualification_id":"q-1"}`), "")
			if err != nil {
				t.Fatal(err)
			}
			if res.RequiresApproval != tt.want {
				t.Errorf("RequiresApproval = %v, want %v (%s)", res.RequiresApproval, tt.want, res.Reason)
			}
		})
	}

	g := newTestGate(t, newMemStore(), nil, nil)
	res, _ := g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":100,"qualification_id":"q-1"}`), "")
	if !res.RequiresApproval {
		t.Error("without a history lookup a first_record rule must require approval")
	}
}

func TestGateHistoryCachedAndDeduplicated(t *testing.T) {
	c, err := ristretto.New(config.Cache{MaxSizeMB: 1, TTL: time.Minute})
	if err != nil {
		t.Fatalf("ristretto.New: %v", err)
	}
	defer c.Close()

	h := &countingHistory{exists: true, release: make(chan struct{})}
	g := newTestGate(t, newMemStore(), nil, nil)
	g.SetHistory(h, c, time.Minute)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":100,"qualification_id":"q-1"}`), "")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(h.release)
	wg.Wait()
	if n := h.calls.Load(); n != 1 {
		t.Fatalf("concurrent lookups = %d, want 1", n)
	}

	res, _ := g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":100,"qualification_id":"q-1"}`), "")
	if res.RequiresApproval {
		t.Error("cached history should let the invoice through")
	}
	if n := h.calls.Load(); n != 1 {
		t.Errorf("lookup not served from cache, calls = %d", n)
	}
}

func TestGateDoesNotCacheMissingHistory(t *testing.T) {
	c, err := ristretto.New(config.Cache{MaxSizeMB: 1, TTL: time.Minute})
	if err != nil {
		t.Fatalf("ristretto.New: %v", err)
	}
	defer c.Close()

	h := &countingHistory{exists: false}
	g := newTestGate(t, newMemStore(), nil, nil)
	g.SetHistory(h, c, time.Minute)
	check := func() bool {
		t.Helper()
		res, err := g.RequiresApproval(context.Background(), "create_and_send_facture", json.RawMessage(`{"montant":100,"qualification_id":"q-1"}`), "")
		if err != nil {
			t.Fatal(err)
		}
		return res.RequiresApproval
	}

	if !check() || !check() {
		t.Fatal("a first invoice must require approval")
	}
	if n := h.calls.Load(); n != 2 {
		t.Fatalf("lookups = %d, want 2 (no history must not be cached)", n)
	}

	// The customer's first invoice now exists.
	h.exists = true
	if check() {
		t.Fatal("the second invoice must pass once history exists")
	}
	check()
	if n := h.calls.Load(); n != 3 {
		t.Errorf("lookups = %d, want 3 (existing history is cached)", n)
	}
}

func TestGateBypass(t *testing.T) {
	store := newMemStore()
	g := newTestGate(t, store, nil, nil)

	inv := invoiceInv(`{"montant":99999,"qualification_id":"q-1"}`)
	inv.Resumed = true
	if p, err := g.Check(context.Background(), inv); p != nil || err != nil {
		t.Fatalf("resumed invocation must bypass the gate: %+v, %v", p, err)
	}

	g.enabled = false
	inv.Resumed = false
	if p, err := g.Check(context.Background(), inv); p != nil || err != nil {
		t.Fatalf("disabled gate must pass: %+v, %v", p, err)
	}
	if store.created != 0 {
		t.Error("no record may be created")
	}
}

func TestGatePromptFailureKeepsRecord(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{sendErr: errors.New("telegram down")}
	g := newTestGate(t, store, n, nil)
	pending, err := g.Check(context.Background(), invoiceInv(`{"montant":2500,"qualification_id":"q-1"}`))
	if err != nil || pending == nil {
		t.Fatalf("Check = %+v, %v", pending, err)
	}
	if rec := store.get(pending.RequestID); rec.Status != hitl.StatusPending || rec.MessageHandle != "" {
		t.Errorf("unexpected record %+v", rec)
	}
}

type failingCreateStore struct{ *memStore }

func (failingCreateStore) CreateRequest(context.Context, *hitl.Request) error {
	return errors.New("connection reset")
}

func TestGateStoreFailure(t *testing.T) {
	p, _ := PolicyFromConfig(config.DefaultRules())
	g := NewApprovalGate(p, failingCreateStore{newMemStore()}, nil, nil, config.HITL{Enabled: true, Timeout: time.Minute})
	_, err := g.Check(context.Background(), invoiceInv(`{"montant":2500,"qualification_id":"q-1"}`))
	if domain.KindOf(err) != domain.KindBackendUnavailable {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
}

func TestPolicyFromConfigRejectsBadRule(t *testing.T) {
	if _, err := PolicyFromConfig([]config.Rule{{Name: "x", Kind: "regex", Field: "a"}}); err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}
