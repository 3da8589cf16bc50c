package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/storage"
)

// BrokerConn is the slice of the AMQP connection the health check needs.
type BrokerConn interface {
	IsClosed() bool
}

// HealthService reports the state of the critical dependencies.
type HealthService interface {
	Check(ctx context.Context) map[string]string
}

type healthService struct {
	store  storage.AuditStore
	broker BrokerConn
}

func NewHealthService(store storage.AuditStore, broker BrokerConn) HealthService {
	return &healthService{store: store, broker: broker}
}

// Check pings each dependency with a short timeout so the probe can never
// hang the endpoint.
func (s healthService) Check(ctx context.Context) map[string]string {
	healthStatus := make(map[string]string)

	dbCtx, dbCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dbCancel()

	if err := s.store.Ping(dbCtx); err != nil {
		healthStatus["db"] = fmt.Sprintf("error: %s", err.Error())
	} else {
		healthStatus["db"] = "ok"
	}

	if s.broker == nil || s.broker.IsClosed() {
		healthStatus["broker"] = "error: connection closed"
	} else {
		healthStatus["broker"] = "ok"
	}

	return healthStatus
}
