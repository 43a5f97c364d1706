package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
)

func testDispatcher(t *testing.T, descs ...tool.Descriptor) *Dispatcher {
	t.Helper()
	reg, err := tool.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewDispatcher(reg, nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Dispatch(context.Background(), tool.Invocation{Tool: "drop_tables"})
	if domain.KindOf(err) != domain.KindUnknownTool {
		t.Fatalf("expected UnknownTool, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnknownTool) {
		t.Error("expected ErrUnknownTool in chain")
	}
}

func TestDispatchValidatesBeforeHandler(t *testing.T) {
	called := false
	d := testDispatcher(t, tool.Descriptor{
		Name:     "create_facture",
		Category: tool.CategoryWrite,
		Schema:   json.RawMessage(`{"type":"object","properties":{"montant":{"type":"number"}},"required":["montant"]}`),
		Handler: func(context.Context, tool.Invocation) (any, error) {
			called = true
			return nil, nil
		},
	})
	_, err := d.Dispatch(context.Background(), tool.Invocation{Tool: "create_facture", Params: json.RawMessage(`{}`)})
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindValidationFailed || de.Tool != "create_facture" || de.Category != "write" {
		t.Fatalf("unexpected error %v", err)
	}
	if called {
		t.Error("handler must not run on invalid params")
	}
}

func TestDispatchClassifiesHandlerErrors(t *testing.T) {
	d := testDispatcher(t, tool.Descriptor{
		Name:     "get_facture_by_id",
		Category: tool.CategoryRead,
		Handler: func(context.Context, tool.Invocation) (any, error) {
			return nil, &backend.Failure{Backend: backend.RPC, Err: backend.ErrNotConfigured}
		},
	})
	_, err := d.Dispatch(context.Background(), tool.Invocation{Tool: "get_facture_by_id"})
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindBackendUnavailable || de.Detail != "rpc not configured" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDispatchPassesInvocation(t *testing.T) {
	var got tool.Invocation
	d := testDispatcher(t, tool.Descriptor{
		Name:     "create_and_send_facture",
		Category: tool.CategoryWorkflow,
		Handler: func(_ context.Context, inv tool.Invocation) (any, error) {
			got = inv
			return &hitl.Pending{Status: hitl.PendingStatus}, nil
		},
	})
	inv := tool.Invocation{Tool: "create_and_send_facture", Params: json.RawMessage(`{"montant":1}`), RequestID: "req-7"}
	res, err := d.Dispatch(context.Background(), inv)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := res.(*hitl.Pending); !ok {
		t.Errorf("result = %#v", res)
	}
	if got.RequestID != "req-7" || string(got.Params) != `{"montant":1}` {
		t.Errorf("invocation not passed through: %+v", got)
	}
	if len(d.Tools()) != 1 {
		t.Errorf("Tools = %d", len(d.Tools()))
	}
}
