package audit

import (
	"context"
	"log/slog"
	"time"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/storage"
)

// Ledger is the single authority over the audit trail. All status writes go
// through it so that transition legality is enforced in one place.
type Ledger interface {
	// Admit reports whether requestID has been seen before. The boolean is
	// true when a record already exists.
	Admit(ctx context.Context, requestID string) (model.AuditRecord, bool, error)

	// Append writes the first record for a request. When a concurrent
	// request won the insert race, Append returns the winning record with
	// duplicate=true instead of an error.
	Append(ctx context.Context, rec model.AuditRecord) (model.AuditRecord, bool, error)

	// Transition moves a record to next. Same-status transitions are
	// idempotent no-ops; illegal ones return an invalid-transition error.
	// Concurrent reports serialize through a status-guarded write, so a
	// terminal state can never be overwritten by a racing writer.
	Transition(ctx context.Context, requestID string, next model.Status, reason *model.FailureReason) (model.AuditRecord, error)

	// Get returns the record for requestID.
	Get(ctx context.Context, requestID string) (model.AuditRecord, error)
}

type ledger struct {
	store storage.AuditStore
	log   *slog.Logger
}

func NewLedger(store storage.AuditStore, log *slog.Logger) Ledger {
	return &ledger{
		store: store,
		log:   log.With("component", "auditLedger"),
	}
}

func (l *ledger) Admit(ctx context.Context, requestID string) (model.AuditRecord, bool, error) {
	rec, err := l.store.FindByRequestID(ctx, requestID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return model.AuditRecord{}, false, nil
		}
		return model.AuditRecord{}, false, err
	}
	return rec, true, nil
}

func (l *ledger) Append(ctx context.Context, rec model.AuditRecord) (model.AuditRecord, bool, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := l.store.Create(ctx, rec)
	if err == nil {
		return rec, false, nil
	}
	if !appErr.IsConflict(err) {
		return model.AuditRecord{}, false, err
	}

	// Lost the insert race: the unique constraint is the authority, so the
	// earlier record wins and this request resolves as a duplicate.
	l.log.Info("Concurrent insert detected, resolving as duplicate",
		slog.String("request_id", rec.RequestID))
	winner, ferr := l.store.FindByRequestID(ctx, rec.RequestID)
	if ferr != nil {
		return model.AuditRecord{}, false, ferr
	}
	return winner, true, nil
}

func (l *ledger) Transition(ctx context.Context, requestID string, next model.Status, reason *model.FailureReason) (model.AuditRecord, error) {
	// The write is guarded on the status the legality check saw. Losing the
	// race re-evaluates against the fresh status; statuses only move toward
	// a terminal state, so this settles within a couple of rounds.
	for {
		rec, err := l.store.FindByRequestID(ctx, requestID)
		if err != nil {
			return model.AuditRecord{}, err
		}

		if rec.Status == next {
			// Redelivered report; the trail already reflects it.
			return rec, nil
		}
		if !rec.Status.CanTransition(next) {
			return model.AuditRecord{}, appErr.NewInvalidTransition(
				"request %s cannot move from %s to %s", requestID, rec.Status, next)
		}

		err = l.store.UpdateStatus(ctx, requestID, rec.Status, next, reason)
		if appErr.IsConflict(err) {
			l.log.Info("Lost a status write race, re-evaluating",
				slog.String("request_id", requestID),
				slog.String("reported", string(next)))
			continue
		}
		if err != nil {
			return model.AuditRecord{}, err
		}

		l.log.Info("Audit status updated",
			slog.String("request_id", requestID),
			slog.String("from", string(rec.Status)),
			slog.String("to", string(next)))

		rec.Status = next
		rec.FailureReason = reason
		return rec, nil
	}
}

func (l *ledger) Get(ctx context.Context, requestID string) (model.AuditRecord, error) {
	return l.store.FindByRequestID(ctx, requestID)
}
