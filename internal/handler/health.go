package handler

import (
	"encoding/json"
	"net/http"

	"github.com/notifyd/notifyd/internal/service"
)

type HealthHandler struct {
	healthSvc service.HealthService
}

func NewHealthHandler(healthSvc service.HealthService) *HealthHandler {
	return &HealthHandler{healthSvc: healthSvc}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readiness checks the critical dependencies and returns 503 until all of
// them answer.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	data := h.healthSvc.Check(r.Context())

	ready := true
	for _, status := range data {
		if status != "ok" {
			ready = false
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(data)
}
