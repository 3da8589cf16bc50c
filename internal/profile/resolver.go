package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/notifyd/notifyd/internal/breaker"
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
)

// ErrDeferred is returned when a profile could not be resolved because the
// dependency is unavailable: the breaker is open, the call timed out, or the
// service answered with a system failure. Callers fall back to deferral
// instead of failing the request.
var ErrDeferred = errors.New("profile resolution deferred")

// IsDeferred reports whether err is a deferred resolution.
func IsDeferred(err error) bool {
	return errors.Is(err, ErrDeferred)
}

// IsBreakerFailure classifies errors for the circuit breaker. Only system
// failures count; a user unknown to the profile service is a healthy answer.
func IsBreakerFailure(err error) bool {
	return appErr.IsDependencyDown(err)
}

// Resolver resolves profiles through a circuit breaker so that a degraded
// profile service cannot stall the intake path.
type Resolver struct {
	client Client
	cb     *breaker.CircuitBreaker
	log    *slog.Logger
}

// NewResolver wraps client with cb. The breaker should be built with
// IsBreakerFailure as its classifier.
func NewResolver(client Client, cb *breaker.CircuitBreaker, log *slog.Logger) *Resolver {
	return &Resolver{
		client: client,
		cb:     cb,
		log:    log.With("component", "profileResolver"),
	}
}

// Resolve returns the user's profile, a not-found error when the user is
// unknown, or ErrDeferred when the dependency cannot be consulted right now.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	var prof *model.UserProfile
	err := r.cb.Do(ctx, func(ctx context.Context) error {
		p, err := r.client.Resolve(ctx, userID)
		if err != nil {
			return err
		}
		prof = p
		return nil
	})

	switch {
	case err == nil:
		return prof, nil
	case errors.Is(err, breaker.ErrOpen):
		metrics.DependencyRequests.WithLabelValues("rejected").Inc()
		r.log.Info("Profile resolution rejected by open breaker", slog.String("user_id", userID))
		return nil, fmt.Errorf("%w: circuit open", ErrDeferred)
	case appErr.IsNotFound(err):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", ErrDeferred, err)
	}
}
