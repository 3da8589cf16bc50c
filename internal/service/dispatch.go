package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notifyd/notifyd/internal/audit"
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/profile"
	"github.com/notifyd/notifyd/internal/queue"
)

// Outcome classifies how an intake request resolved.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeSkipped   Outcome = "skipped_opt_out"
	OutcomeFailed    Outcome = "missing_contact"
)

// Result pairs a resolved outcome with the audit record backing it.
type Result struct {
	Outcome Outcome
	Record  model.AuditRecord
}

// ProfileResolver yields a user's profile, a not-found error for unknown
// users, or a deferred error when the profile service cannot be consulted.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*model.UserProfile, error)
}

// DispatchService runs the intake pipeline: idempotent admission, profile
// resolution behind the circuit breaker, the preference gate, enrichment,
// the audit write, and finally the publish.
type DispatchService interface {
	Dispatch(ctx context.Context, req model.NotificationRequest) (Result, error)
}

type dispatchService struct {
	ledger    audit.Ledger
	resolver  ProfileResolver
	publisher queue.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewDispatchService(ledger audit.Ledger, resolver ProfileResolver, publisher queue.Publisher, logger *slog.Logger) DispatchService {
	l := logger.With("layer", "service", "component", "dispatchService")
	return &dispatchService{
		ledger:    ledger,
		resolver:  resolver,
		publisher: publisher,
		logger:    l,
		tracer:    otel.Tracer("dispatch-service"),
	}
}

func (s *dispatchService) Dispatch(ctx context.Context, req model.NotificationRequest) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Dispatch")
	defer span.End()

	span.SetAttributes(
		attribute.String("notification.request_id", req.RequestID),
		attribute.String("notification.channel", string(req.Channel)),
	)
	s.logger.Info("Dispatch called",
		slog.String("request_id", req.RequestID),
		slog.String("user_id", req.UserID),
		slog.String("channel", string(req.Channel)))

	if err := validateRequest(req); err != nil {
		s.logger.Warn("Rejecting malformed request", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	// Idempotent admission: a known request id resolves to its recorded
	// outcome and never a second side effect.
	rec, seen, err := s.ledger.Admit(ctx, req.RequestID)
	if err != nil {
		s.logger.Error("Admission check failed", slog.String("request_id", req.RequestID), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if seen {
		s.logger.Info("Duplicate request short-circuited",
			slog.String("request_id", req.RequestID),
			slog.String("status", string(rec.Status)))
		s.count(span, OutcomeDuplicate)
		return Result{Outcome: OutcomeDuplicate, Record: rec}, nil
	}

	prof, err := s.resolver.Resolve(ctx, req.UserID)
	switch {
	case err == nil:
	case appErr.IsNotFound(err):
		// Unknown user: reject outright, nothing to audit.
		metrics.IntakeOutcomes.WithLabelValues("unknown_user").Inc()
		s.logger.Warn("Unknown user",
			slog.String("request_id", req.RequestID),
			slog.String("user_id", req.UserID))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	case profile.IsDeferred(err):
		s.logger.Warn("Profile unavailable, deferring request",
			slog.String("request_id", req.RequestID),
			slog.Any("error", err))
		return s.settle(ctx, span, req, model.StatusDeferredCB, nil, OutcomeDeferred)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	if !prof.Preferences.Allows(req.Channel) {
		s.logger.Info("User opted out of channel",
			slog.String("request_id", req.RequestID),
			slog.String("channel", string(req.Channel)))
		return s.settle(ctx, span, req, model.StatusSkippedOptOut, nil, OutcomeSkipped)
	}

	payload, missing := enrich(req, prof)
	if missing != nil {
		s.logger.Warn("Missing contact for channel",
			slog.String("request_id", req.RequestID),
			slog.String("channel", string(req.Channel)))
		return s.settle(ctx, span, req, model.StatusFailed, missing, OutcomeFailed)
	}

	snapshot, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, appErr.NewInternal("marshal payload snapshot: %v", err)
	}

	res, err := s.append(ctx, span, newRecord(req, model.StatusQueued, snapshot, nil), OutcomeAccepted)
	if err != nil {
		return Result{}, err
	}
	if res.Outcome == OutcomeDuplicate {
		s.count(span, OutcomeDuplicate)
		return res, nil
	}

	// The audit write precedes the publish. A failed publish leaves the
	// record QUEUED for later reconciliation instead of rolling back.
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.Error("Publish failed after audit write",
			slog.String("request_id", req.RequestID),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	s.logger.Info("Request queued",
		slog.String("request_id", req.RequestID),
		slog.String("channel", string(req.Channel)))
	s.count(span, OutcomeAccepted)
	return res, nil
}

// settle writes a terminal first record and counts its outcome. A request
// that never reaches the queue snapshots the raw request; the queued path
// snapshots the enriched payload instead.
func (s *dispatchService) settle(ctx context.Context, span trace.Span, req model.NotificationRequest, status model.Status, reason *model.FailureReason, outcome Outcome) (Result, error) {
	snapshot, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, appErr.NewInternal("marshal request snapshot: %v", err)
	}
	res, err := s.append(ctx, span, newRecord(req, status, snapshot, reason), outcome)
	if err != nil {
		return Result{}, err
	}
	s.count(span, res.Outcome)
	return res, nil
}

// append writes the first record for a request. A lost insert race resolves
// as a duplicate outcome carrying the winning record.
func (s *dispatchService) append(ctx context.Context, span trace.Span, rec model.AuditRecord, outcome Outcome) (Result, error) {
	stored, duplicate, err := s.ledger.Append(ctx, rec)
	if err != nil {
		s.logger.Error("Audit write failed",
			slog.String("request_id", rec.RequestID),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if duplicate {
		outcome = OutcomeDuplicate
	}
	return Result{Outcome: outcome, Record: stored}, nil
}

func (s *dispatchService) count(span trace.Span, outcome Outcome) {
	span.SetAttributes(attribute.String("notification.outcome", string(outcome)))
	metrics.IntakeOutcomes.WithLabelValues(string(outcome)).Inc()
}

func validateRequest(req model.NotificationRequest) error {
	switch {
	case req.RequestID == "":
		return appErr.NewValidation("request_id is required")
	case req.UserID == "":
		return appErr.NewValidation("user_id is required")
	case !req.Channel.Valid():
		return appErr.NewValidation("channel must be one of EMAIL, PUSH")
	case req.TemplateCode == "":
		return appErr.NewValidation("template_code is required")
	}
	return nil
}

func newRecord(req model.NotificationRequest, status model.Status, snapshot []byte, reason *model.FailureReason) model.AuditRecord {
	return model.AuditRecord{
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		Channel:         req.Channel,
		Status:          status,
		PayloadSnapshot: snapshot,
		FailureReason:   reason,
	}
}

// enrich merges resolved contact data into the outbound payload. A non-nil
// reason means the channel's contact field is missing from the profile.
func enrich(req model.NotificationRequest, prof *model.UserProfile) (model.EnrichedPayload, *model.FailureReason) {
	payload := model.EnrichedPayload{
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		Channel:      req.Channel,
		TemplateCode: req.TemplateCode,
		Variables:    req.Variables,
		Priority:     req.Priority,
		Metadata:     req.Metadata,
		EnqueuedAt:   time.Now().UTC(),
	}

	switch req.Channel {
	case model.ChannelEmail:
		if prof.Email == "" {
			return payload, &model.FailureReason{Code: "missing_contact", Message: "user has no email address on file"}
		}
		payload.EmailAddress = prof.Email
	case model.ChannelPush:
		if prof.PushToken == "" {
			return payload, &model.FailureReason{Code: "missing_contact", Message: "user has no push token on file"}
		}
		payload.PushToken = prof.PushToken
	}
	return payload, nil
}
