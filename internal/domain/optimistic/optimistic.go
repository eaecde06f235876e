// Package optimistic runs a local change ahead of its remote confirmation
// and reverts it when the remote call fails.
package optimistic

import (
	"context"
	"errors"
	"fmt"
)

// ErrPersistence marks a failed remote call whose local change was reverted.
var ErrPersistence = errors.New("persistence failed")

// Error is returned by Run when the remote call fails. Message is safe to
// show to the user.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap exposes both the persistence kind and the remote cause.
func (e *Error) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Retryable reports whether repeating the gesture may succeed.
func (e *Error) Retryable() bool { return true }

// Mutation bundles a local change, its inverse and the remote call that
// makes it durable.
type Mutation struct {
	Op      string
	Message string
	Apply   func()
	Inverse func()
	Remote  func(ctx context.Context) error
}

// Run applies m locally and then persists it. When Remote fails, Inverse
// runs and an *Error wrapping the cause is returned.
func Run(ctx context.Context, m Mutation) error {
	Prepare(m)
	return Commit(ctx, m)
}

// Prepare performs only the local half of m.
func Prepare(m Mutation) {
	if m.Apply != nil {
		m.Apply()
	}
}

// Commit performs the remote half of m, reverting the local half on failure.
// It lets callers publish the optimistic state between Prepare and Commit.
func Commit(ctx context.Context, m Mutation) error {
	if m.Remote == nil {
		return nil
	}
	err := m.Remote(ctx)
	if err == nil {
		return nil
	}
	if m.Inverse != nil {
		m.Inverse()
	}
	return &Error{Op: m.Op, Message: m.Message, Err: err}
}
