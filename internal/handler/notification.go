package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/queue"
	"github.com/notifyd/notifyd/internal/service"
)

type NotificationHandler struct {
	dispatchSvc service.DispatchService
	statusSvc   service.StatusService
	logger      *slog.Logger
}

func NewNotificationHandler(dispatchSvc service.DispatchService, statusSvc service.StatusService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		dispatchSvc: dispatchSvc,
		statusSvc:   statusSvc,
		logger:      logger,
	}
}

// intakeAck is the body returned for every resolved submission or report.
type intakeAck struct {
	RequestID     string               `json:"request_id"`
	Status        model.Status         `json:"status"`
	FailureReason *model.FailureReason `json:"failure_reason,omitempty"`
}

// Notify handles POST /v1/notifications.
func (h *NotificationHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req model.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.dispatchSvc.Dispatch(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, ackStatusCode(res.Outcome), intakeAck{
		RequestID:     res.Record.RequestID,
		Status:        res.Record.Status,
		FailureReason: res.Record.FailureReason,
	})
}

// GetByRequestID handles GET /v1/notifications/{id}.
func (h *NotificationHandler) GetByRequestID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.statusSvc.GetStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ReportStatus handles POST /v1/status/{channel}, the delivery-outcome
// contract workers call back on.
func (h *NotificationHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel != queue.KeyEmail && channel != queue.KeyPush {
		http.Error(w, "unknown channel label", http.StatusBadRequest)
		return
	}

	var report model.StatusReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.logger.Info("Delivery report received",
		slog.String("channel", channel),
		slog.String("notification_id", report.NotificationID),
		slog.String("status", string(report.Status)))

	rec, err := h.statusSvc.Reconcile(r.Context(), report)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, intakeAck{
		RequestID:     rec.RequestID,
		Status:        rec.Status,
		FailureReason: rec.FailureReason,
	})
}

func (h *NotificationHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case appErr.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case appErr.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case appErr.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case appErr.IsStoreUnavailable(err):
		h.logger.Error("Audit store unavailable", slog.Any("error", err))
		http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
	case appErr.IsPublish(err):
		h.logger.Error("Broker publish failed", slog.Any("error", err))
		http.Error(w, "failed to queue notification", http.StatusBadGateway)
	default:
		h.logger.Error("Request failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func ackStatusCode(outcome service.Outcome) int {
	switch outcome {
	case service.OutcomeAccepted, service.OutcomeDeferred:
		return http.StatusAccepted
	case service.OutcomeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
