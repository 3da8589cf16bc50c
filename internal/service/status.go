package service

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notifyd/notifyd/internal/audit"
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
)

// StatusService applies reported delivery outcomes to the audit trail and
// serves status lookups.
type StatusService interface {
	Reconcile(ctx context.Context, report model.StatusReport) (model.AuditRecord, error)
	GetStatus(ctx context.Context, requestID string) (model.AuditRecord, error)
}

type statusService struct {
	ledger audit.Ledger
	logger *slog.Logger
	tracer trace.Tracer
}

func NewStatusService(ledger audit.Ledger, logger *slog.Logger) StatusService {
	l := logger.With("layer", "service", "component", "statusService")
	return &statusService{
		ledger: ledger,
		logger: l,
		tracer: otel.Tracer("status-service"),
	}
}

func (s *statusService) Reconcile(ctx context.Context, report model.StatusReport) (model.AuditRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Reconcile")
	defer span.End()

	span.SetAttributes(
		attribute.String("notification.request_id", report.NotificationID),
		attribute.String("notification.status", string(report.Status)),
	)
	s.logger.Info("Reconcile called",
		slog.String("notification_id", report.NotificationID),
		slog.String("status", string(report.Status)))

	if report.NotificationID == "" {
		err := appErr.NewValidation("notification_id is required")
		metrics.ReconcileTotal.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.AuditRecord{}, err
	}

	// Workers report statuses in either case.
	report.Status = model.Status(strings.ToUpper(string(report.Status)))
	if !report.Status.Reportable() {
		err := appErr.NewValidation("status %s cannot be reported", string(report.Status))
		metrics.ReconcileTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Rejecting report with unusable status",
			slog.String("notification_id", report.NotificationID),
			slog.String("status", string(report.Status)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.AuditRecord{}, err
	}

	var reason *model.FailureReason
	if report.Status == model.StatusFailed {
		reason = &model.FailureReason{Code: "delivery_error", Message: report.Error}
	}

	rec, err := s.ledger.Transition(ctx, report.NotificationID, report.Status, reason)
	if err != nil {
		switch {
		case appErr.IsNotFound(err):
			metrics.ReconcileTotal.WithLabelValues("unknown").Inc()
			s.logger.Warn("Report for unknown notification",
				slog.String("notification_id", report.NotificationID))
		case appErr.IsInvalidTransition(err):
			metrics.ReconcileTotal.WithLabelValues("conflict").Inc()
			s.logger.Warn("Report conflicts with recorded status",
				slog.String("notification_id", report.NotificationID),
				slog.String("reported", string(report.Status)))
		default:
			metrics.ReconcileTotal.WithLabelValues("store_error").Inc()
			s.logger.Error("Reconcile failed",
				slog.String("notification_id", report.NotificationID),
				slog.Any("error", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.AuditRecord{}, err
	}

	metrics.ReconcileTotal.WithLabelValues("applied").Inc()
	s.logger.Info("Reconcile succeeded",
		slog.String("notification_id", report.NotificationID),
		slog.String("status", string(rec.Status)))
	return rec, nil
}

func (s *statusService) GetStatus(ctx context.Context, requestID string) (model.AuditRecord, error) {
	ctx, span := s.tracer.Start(ctx, "GetStatus")
	defer span.End()

	span.SetAttributes(attribute.String("notification.request_id", requestID))

	rec, err := s.ledger.Get(ctx, requestID)
	if err != nil {
		if appErr.IsNotFound(err) {
			s.logger.Warn("Notification not found", slog.String("request_id", requestID))
		} else {
			s.logger.Error("Status lookup failed",
				slog.String("request_id", requestID),
				slog.Any("error", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.AuditRecord{}, err
	}
	return rec, nil
}
