package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/resilience"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	desc := tool.Descriptor{Name: "create_facture", Category: tool.CategoryWrite}
	fail := func(name backend.Name, err error) error { return &backend.Failure{Backend: name, Err: err} }

	tests := []struct {
		name       string
		err        error
		kind       domain.Kind
		status     int
		wantDetail string
	}{
		{"not configured", fail(backend.Document, backend.ErrNotConfigured), domain.KindBackendUnavailable, 0, "document not configured"},
		{"circuit open", fail(backend.Database, resilience.ErrCircuitOpen), domain.KindBackendUnavailable, 0, "database circuit open after repeated failures"},
		{"connection refused", fail(backend.Email, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}), domain.KindBackendUnavailable, 0, "email unreachable"},
		{"deadline", fail(backend.RPC, context.DeadlineExceeded), domain.KindBackendTimeout, 0, "rpc did not answer in time"},
		{"net timeout", fail(backend.Storage, timeoutErr{}), domain.KindBackendTimeout, 0, "storage did not answer in time"},
		{"422", fail(backend.Database, &backend.CallError{Backend: backend.Database, Status: 422, Body: "montant < 0"}), domain.KindValidationFailed, 422, "montant < 0"},
		{"409", &backend.CallError{Backend: backend.Database, Status: 409, Body: "dup"}, domain.KindValidationFailed, 409, "dup"},
		{"404", &backend.CallError{Backend: backend.RPC, Status: 404, Body: "facture f not found"}, domain.KindBackendError, 404, "facture f not found"},
		{"500", fail(backend.RPC, &backend.CallError{Backend: backend.RPC, Status: 503}), domain.KindBackendError, 503, "rpc answered 503"},
		{"schema", fmt.Errorf("%w: missing montant", domain.ErrValidation), domain.KindValidationFailed, 0, "validation failed: missing montant"},
		{"unknown error", errors.New("boom"), domain.KindBackendError, 0, ""},
		{"sentinel", fmt.Errorf("wrapped: %w", domain.ErrBackendError), domain.KindBackendError, 0, "wrapped: backend error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, desc)
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.Status != tt.status {
				t.Errorf("Status = %d, want %d", got.Status, tt.status)
			}
			if got.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", got.Detail, tt.wantDetail)
			}
			if got.Tool != "create_facture" || got.Category != "write" {
				t.Errorf("tool not attached: %+v", got)
			}
			if !errors.Is(got, tt.err) {
				t.Error("original error must stay in the chain")
			}
		})
	}
}

func TestClassifyKeepsDomainError(t *testing.T) {
	in := &domain.Error{Kind: domain.KindBackendUnavailable, Detail: "approval store unavailable"}
	got := Classify(in, tool.Descriptor{Name: "create_and_send_facture", Category: tool.CategoryWorkflow})
	if got.Kind != domain.KindBackendUnavailable || got.Tool != "create_and_send_facture" {
		t.Fatalf("unexpected %+v", got)
	}
	if in.Tool != "" {
		t.Error("input error must not be mutated")
	}
}

func TestClassifyKeepsCompletedSteps(t *testing.T) {
	d := tool.Descriptor{Name: "create_and_send_facture", Category: tool.CategoryWorkflow}
	tests := []struct {
		name       string
		err        error
		kind       domain.Kind
		wantDetail string
	}{
		{"backend failure", &domain.StepError{Done: "facture f-9 created but not sent", Err: &backend.Failure{Backend: backend.Email, Err: context.DeadlineExceeded}},
			domain.KindBackendTimeout, "facture f-9 created but not sent: email did not answer in time"},
		{"classified", &domain.StepError{Done: "facture f-9 created but not sent", Err: &domain.Error{Kind: domain.KindValidationFailed, Detail: "recipient_email is required"}},
			domain.KindValidationFailed, "facture f-9 created but not sent: recipient_email is required"},
		{"no detail", &domain.StepError{Done: "facture f-9 created but not sent", Err: errors.New("boom")},
			domain.KindBackendError, "facture f-9 created but not sent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, d)
			if got.Kind != tt.kind || got.Detail != tt.wantDetail {
				t.Fatalf("got %s %q, want %s %q", got.Kind, got.Detail, tt.kind, tt.wantDetail)
			}
			if !errors.Is(got, tt.err) {
				t.Error("original error must stay in the chain")
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	err := &backend.Failure{Backend: backend.RPC, Err: &backend.CallError{Backend: backend.RPC, Status: 502}}
	d := tool.Descriptor{Name: "get_facture_by_id", Category: tool.CategoryRead}
	first := Classify(err, d)
	for range 10 {
		if got := Classify(err, d); got.Kind != first.Kind || got.Detail != first.Detail {
			t.Fatalf("classification changed: %+v vs %+v", got, first)
		}
	}
}
