package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
)

// ApprovalService is the read side used by operators.
type ApprovalService struct {
	store approvalstore.Store
}

// NewApprovalService creates the service.
func NewApprovalService(store approvalstore.Store) *ApprovalService {
	return &ApprovalService{store: store}
}

// List returns records newest first, optionally filtered by status.
func (s *ApprovalService) List(ctx context.Context, f hitl.Filter) ([]hitl.Request, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, f.Status)
	}
	return s.store.ListRequests(ctx, f)
}

// Get returns one record.
func (s *ApprovalService) Get(ctx context.Context, id string) (*hitl.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return req, nil
}

// Ping checks the store.
func (s *ApprovalService) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
