package model

// Status is the lifecycle state of an audit record.
type Status string

const (
	// StatusQueued means the request was accepted and handed to the broker.
	StatusQueued Status = "QUEUED"
	// StatusDeferredCB means the profile dependency was unavailable (circuit
	// open or timeout); terminal for the intake pipeline, reprocessed
	// out of band.
	StatusDeferredCB Status = "DEFERRED_CB"
	// StatusSkippedOptOut means the user declined this channel; terminal,
	// treated as success.
	StatusSkippedOptOut Status = "SKIPPED_OPT_OUT"
	// StatusPending means a downstream worker picked the message up but has
	// not concluded.
	StatusPending Status = "PENDING"
	// StatusDelivered is the downstream success terminal state.
	StatusDelivered Status = "DELIVERED"
	// StatusFailed is the downstream (or enrichment) failure terminal state.
	StatusFailed Status = "FAILED"
)

// transitions is the single authority on legal status moves. Initial creation
// statuses are not listed here; they are decided once at intake.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusPending, StatusDelivered, StatusFailed},
	StatusPending: {StatusDelivered, StatusFailed},
}

// Valid reports whether s is one of the recognized lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDeferredCB, StatusSkippedOptOut,
		StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline-driven transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeferredCB, StatusSkippedOptOut, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Reportable reports whether s may be carried by a downstream status report.
// Only the worker-driven states are accepted on the reconciliation path.
func (s Status) Reportable() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}
