package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the core wraps exactly one of these,
// so edges (HTTP, webhook acks, workers) can classify with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("entity not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTransient         = errors.New("transient failure")
)

var (
	// Repository-level errors
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = fmt.Errorf("%w: invalid argument", ErrValidation)
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("could not read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Ledger
	ErrPaymentIDMismatch   = fmt.Errorf("%w: order already settled with a different payment id", ErrConflict)
	ErrAmountMismatch      = fmt.Errorf("%w: captured amount does not match the order", ErrConflict)
	ErrSignatureMismatch   = fmt.Errorf("%w: signature mismatch", ErrConflict)
	ErrRefundExceedsAmount = fmt.Errorf("%w: amount exceeds remaining balance", ErrInvalidTransition)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// Enrollment / subscription / devices
	ErrNotSubscription    = fmt.Errorf("%w: enrollment is not a subscription", ErrInvalidTransition)
	ErrAccessInactive     = fmt.Errorf("%w: enrollment does not grant access", ErrForbidden)
	ErrDeviceLimitReached = fmt.Errorf("%w: device limit reached", ErrInvalidTransition)
	ErrCourseNotFound     = fmt.Errorf("%w: course", ErrNotFound)

	// Webhooks
	ErrInvalidSignature = fmt.Errorf("%w: invalid webhook signature", ErrValidation)
	ErrEventIgnored     = errors.New("event ignored")

	// Gateway
	ErrGatewayUnavailable = fmt.Errorf("%w: payment gateway unavailable", ErrTransient)
)

// TransitionError reports a rejected state change with both the attempted
// and the current state.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// NewTransitionError is a small helper so call sites read naturally.
func NewTransitionError(entity, from, to string) error {
	return &TransitionError{Entity: entity, From: from, To: to}
}

// Transient wraps an infrastructure failure so that callers may retry.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
