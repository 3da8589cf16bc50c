package errors

import (
	"errors"
	"fmt"
)

// Sentinels for the pipeline error taxonomy. Callers branch with the Is*
// helpers; constructors below wrap these so errors.Is keeps working through
// added context.
var (
	// ErrValidation marks malformed input rejected before the pipeline runs.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent audit record or an unknown user id.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness conflict on create; on the intake path
	// this is the authoritative duplicate signal.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition marks an illegal audit status move.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStoreUnavailable marks an audit store failure; no side effects are
	// safe once the store cannot be read or written.
	ErrStoreUnavailable = errors.New("audit store unavailable")
	// ErrDependencyDown marks a profile-service system failure (5xx, timeout,
	// connection error). Counts toward the circuit breaker; business 404s
	// never carry this.
	ErrDependencyDown = errors.New("dependency unavailable")
	// ErrPublish marks a broker publish failure after the audit record was
	// already written.
	ErrPublish = errors.New("publish failed")
	// ErrInternal marks everything that has no better classification.
	ErrInternal = errors.New("internal error")
)

func NewValidation(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, a...)...)
}

func NewNotFound(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, a...)...)
}

func NewConflict(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, a...)...)
}

func NewInvalidTransition(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidTransition}, a...)...)
}

func NewStoreUnavailable(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrStoreUnavailable}, a...)...)
}

func NewDependencyDown(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrDependencyDown}, a...)...)
}

func NewPublish(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrPublish}, a...)...)
}

func NewInternal(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInternal}, a...)...)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsDependencyDown(err error) bool {
	return errors.Is(err, ErrDependencyDown)
}

func IsPublish(err error) bool {
	return errors.Is(err, ErrPublish)
}
