package rankstore

import "errors"

// Sentinel kinds for ranking store errors.
var (
	// ErrMutationInFlight is surfaced when a gesture arrives while the
	// partition still waits for a previous mutation to persist. The
	// gesture is dropped.
	ErrMutationInFlight = errors.New("another change is still being saved")
	ErrClosed           = errors.New("ranking store closed")
)

// User facing messages attached to rolled back mutations.
const (
	reorderFailedMessage = "Failed to save new order. Please try again."
	deleteFailedMessage  = "Failed to remove from rankings. Please try again."
)
