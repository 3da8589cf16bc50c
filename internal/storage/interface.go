package storage

import (
	"context"

	"github.com/notifyd/notifyd/internal/model"
)

// AuditStore persists the audit trail of every admitted notification request.
// The request_id column carries a unique constraint; Create surfaces a
// conflict error when a record already exists, which is the authoritative
// duplicate signal for idempotent admission.
type AuditStore interface {
	// Create inserts a new audit record. Returns a conflict error when a
	// record with the same request id already exists.
	Create(ctx context.Context, rec model.AuditRecord) error

	// FindByRequestID returns the record for the given request id, or a
	// not-found error when none exists.
	FindByRequestID(ctx context.Context, requestID string) (model.AuditRecord, error)

	// UpdateStatus moves a record from one status to another. The write is
	// guarded on the expected prior status so concurrent writers serialize:
	// a not-found error means no record exists, a conflict error means the
	// record's status moved past from. A nil reason clears the failure
	// columns.
	UpdateStatus(ctx context.Context, requestID string, from, to model.Status, reason *model.FailureReason) error

	Ping(ctx context.Context) error
}
