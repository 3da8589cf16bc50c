package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

type auditPostgres struct {
	db *pgxpool.Pool
}

func NewAuditPostgres(pool *pgxpool.Pool) AuditStore {
	return &auditPostgres{db: pool}
}

func (s *auditPostgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *auditPostgres) Create(ctx context.Context, rec model.AuditRecord) error {
	const query = `
		INSERT INTO notifications
			(request_id, user_id, channel, status, payload, failure_code, failure_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	var payload []byte
	if len(rec.PayloadSnapshot) > 0 {
		payload = rec.PayloadSnapshot
	}
	code, msg := splitReason(rec.FailureReason)

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, query,
		rec.RequestID, rec.UserID, string(rec.Channel), string(rec.Status),
		payload, code, msg, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return appErr.NewConflict("audit record for request %s already exists", rec.RequestID)
		}
		return appErr.NewStoreUnavailable("insert audit record: %v", err)
	}
	return nil
}

func (s *auditPostgres) FindByRequestID(ctx context.Context, requestID string) (model.AuditRecord, error) {
	const query = `
		SELECT request_id, user_id, channel, status, payload, failure_code, failure_message, created_at, updated_at
		FROM notifications
		WHERE request_id = $1
	`

	var (
		rec       model.AuditRecord
		payload   []byte
		code, msg *string
	)
	err := s.db.QueryRow(ctx, query, requestID).Scan(
		&rec.RequestID, &rec.UserID, &rec.Channel, &rec.Status,
		&payload, &code, &msg, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuditRecord{}, appErr.NewNotFound("no audit record for request %s", requestID)
		}
		return model.AuditRecord{}, appErr.NewStoreUnavailable("find audit record: %v", err)
	}

	rec.PayloadSnapshot = payload
	rec.FailureReason = joinReason(code, msg)
	return rec, nil
}

func (s *auditPostgres) UpdateStatus(ctx context.Context, requestID string, from, to model.Status, reason *model.FailureReason) error {
	const query = `
		UPDATE notifications
		SET status = $1, failure_code = $2, failure_message = $3, updated_at = $4
		WHERE request_id = $5 AND status = $6
	`

	code, msg := splitReason(reason)
	tag, err := s.db.Exec(ctx, query, string(to), code, msg, time.Now().UTC(), requestID, string(from))
	if err != nil {
		return appErr.NewStoreUnavailable("update audit status: %v", err)
	}
	if tag.RowsAffected() != 0 {
		return nil
	}

	// Zero rows means the record is gone or its status moved under us;
	// re-read to tell the two apart.
	if _, err := s.FindByRequestID(ctx, requestID); err != nil {
		return err
	}
	return appErr.NewConflict("audit record for request %s is no longer %s", requestID, from)
}

func splitReason(r *model.FailureReason) (code, msg *string) {
	if r == nil {
		return nil, nil
	}
	return &r.Code, &r.Message
}

func joinReason(code, msg *string) *model.FailureReason {
	if code == nil {
		return nil
	}
	r := &model.FailureReason{Code: *code}
	if msg != nil {
		r.Message = *msg
	}
	return r
}
