package ranking

import (
	"errors"
	"fmt"
)

// Sentinel kinds for ranking errors. Every validation failure wraps
// ErrValidation so callers can match the whole class with errors.Is.
var (
	ErrValidation      = errors.New("invalid ranking mutation")
	ErrIndexOutOfRange = fmt.Errorf("%w: index out of range", ErrValidation)
	ErrUnknownItem     = fmt.Errorf("%w: unknown item", ErrValidation)
)

// ValidationError describes a rejected mutation. It never reaches the
// remote repository.
type ValidationError struct {
	Op     string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

func invalid(op string, reason error, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
