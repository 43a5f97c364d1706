// Package approvalstore defines the persistence port for approval records.
package approvalstore

import (
	"context"
	"time"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

// Store owns every approval record. Status changes go exclusively through
// CompareAndSetStatus, which implementations must enforce with a single
// conditional update in the database, never with in-process locks: the
// webhook and the sweeper may run in different replicas.
type Store interface {
	// CreateRequest inserts a new pending record.
	CreateRequest(ctx context.Context, req *hitl.Request) error

	// GetRequest returns the record or domain.ErrRequestNotFound.
	GetRequest(ctx context.Context, id string) (*hitl.Request, error)

	// CompareAndSetStatus moves the record from expected to next, writing
	// the transition fields in the same statement. It returns the updated
	// record, domain.ErrConflict when the status no longer equals expected,
	// or domain.ErrRequestNotFound.
	CompareAndSetStatus(ctx context.Context, id string, expected, next hitl.Status, t hitl.Transition) (*hitl.Request, error)

	// ListExpiredPending returns up to limit pending records whose expiry is
	// at or before now, oldest first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error)

	// AttachMessage records the channel handles of the decision prompt.
	AttachMessage(ctx context.Context, id, messageHandle, conversationHandle string) error

	// RecordOutcome stores the replay result of an approved or modified
	// record. It succeeds once; later calls return domain.ErrConflict.
	RecordOutcome(ctx context.Context, id string, outcome hitl.Outcome) error

	// ListRequests returns records newest first.
	ListRequests(ctx context.Context, f hitl.Filter) ([]hitl.Request, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
