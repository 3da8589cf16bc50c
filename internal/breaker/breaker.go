package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/notifyd/notifyd/internal/metrics"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker mode.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds the breaker policy.
type Config struct {
	// Name labels the protected dependency in logs and metrics.
	Name string
	// Window is the rolling interval over which outcomes are counted.
	Window time.Duration
	// MinSamples is the minimum number of outcomes in the window before the
	// failure ratio is evaluated.
	MinSamples int
	// FailureRatio is the tripping threshold (failures / samples).
	FailureRatio float64
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	// IsFailure classifies call errors; only errors it accepts count toward
	// the ratio. Business errors (e.g. not-found) must return false so they
	// pass through without tripping the breaker.
	IsFailure func(error) bool
}

type sample struct {
	at     time.Time
	failed bool
}

// CircuitBreaker guards a single dependency. One shared instance protects the
// dependency as a whole; all mutation happens under mu since many in-flight
// requests report outcomes concurrently.
type CircuitBreaker struct {
	name         string
	window       time.Duration
	minSamples   int
	failureRatio float64
	cooldown     time.Duration
	isFailure    func(error) bool
	log          *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every state change; outcomes from a lapsed generation are stale
	samples  []sample
	openedAt time.Time
	probing  bool
}

// New creates a breaker in the closed state.
func New(cfg Config, log *slog.Logger) *CircuitBreaker {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	cb := &CircuitBreaker{
		name:         cfg.Name,
		window:       cfg.Window,
		minSamples:   cfg.MinSamples,
		failureRatio: cfg.FailureRatio,
		cooldown:     cfg.Cooldown,
		isFailure:    isFailure,
		log:          log.With("component", "breaker", "dependency", cfg.Name),
		now:          time.Now,
	}
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateClosed))
	return cb
}

// State returns the current breaker mode.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Do runs call under the breaker policy. While open it returns ErrOpen
// immediately without invoking call; while half-open exactly one probe is
// admitted. The call's own error is returned unchanged so business results
// reach the caller untouched.
func (cb *CircuitBreaker) Do(ctx context.Context, call func(context.Context) error) error {
	gen, err := cb.allow()
	if err != nil {
		return err
	}
	err = call(ctx)
	cb.record(gen, err)
	return err
}

// allow decides whether a call may proceed, moving open→half-open once the
// cooldown has elapsed. The admitted half-open caller is the probe. The
// returned generation tags the admission so record can tell the probe apart
// from a straggler admitted under an earlier state.
func (cb *CircuitBreaker) allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return cb.gen, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return 0, ErrOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return cb.gen, nil
	case StateHalfOpen:
		if cb.probing {
			return 0, ErrOpen
		}
		cb.probing = true
		return cb.gen, nil
	}
	return cb.gen, nil
}

// record accounts a completed call's outcome.
func (cb *CircuitBreaker) record(gen uint64, err error) {
	failed := err != nil && cb.isFailure(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.gen {
		// Straggler from a previous state; its outcome is stale, drop it.
		// In half-open only the probe carries the current generation, so a
		// slow pre-trip call can never close or re-open the breaker.
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		if failed {
			cb.trip()
			return
		}
		cb.transition(StateClosed)
		cb.samples = nil
	case StateClosed:
		now := cb.now()
		cb.samples = append(cb.samples, sample{at: now, failed: failed})
		cb.prune(now)
		if failed && cb.shouldTrip() {
			cb.trip()
		}
	}
}

// prune drops samples that fell out of the rolling window.
func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for ; i < len(cb.samples); i++ {
		if cb.samples[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		cb.samples = append(cb.samples[:0], cb.samples[i:]...)
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if len(cb.samples) < cb.minSamples {
		return false
	}
	failures := 0
	for _, s := range cb.samples {
		if s.failed {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.samples)) >= cb.failureRatio
}

func (cb *CircuitBreaker) trip() {
	cb.transition(StateOpen)
	cb.openedAt = cb.now()
	cb.samples = nil
}

// transition moves to next and publishes the change. Callers hold mu.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	logFn := cb.log.Info
	if next == StateOpen {
		logFn = cb.log.Warn
	}
	logFn("Breaker state change",
		slog.String("from", cb.state.String()),
		slog.String("to", next.String()))
	cb.state = next
	cb.gen++
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(next))
	metrics.BreakerTransitions.WithLabelValues(next.String()).Inc()
}
