package domain

import (
	"errors"
	"fmt"
)

// Kind is the caller-facing error category. Handlers and retry logic switch on
// it rather than on individual sentinels.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindDuplicate         Kind = "duplicate_operation"
	KindNotFound          Kind = "not_found"
	KindBusy              Kind = "busy"
	KindDependency        Kind = "dependency_failure"
	KindInternal          Kind = "internal_error"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrBelowMinimum         = errors.New("amount below platform minimum")
	ErrMissingUrgencyReason = errors.New("urgency reason required for emergency payouts")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrLimitExceeded        = errors.New("transfer limit exceeded")

	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotReversible     = errors.New("transaction is not reversible")

	ErrDuplicateReference = errors.New("reference code already used with a different payload")
	ErrDuplicateOperation = errors.New("idempotency key already used with a different payload")

	ErrNotFound = errors.New("not found")

	ErrBusy = errors.New("resource busy, retry later")

	ErrDependencyFailure = errors.New("dependency failure")

	ErrInvariant = errors.New("ledger invariant violated")
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrMissingUrgencyReason),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrLimitExceeded):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotReversible):
		return KindInvalidTransition
	case errors.Is(err, ErrDuplicateReference), errors.Is(err, ErrDuplicateOperation):
		return KindDuplicate
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrDependencyFailure):
		return KindDependency
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may safely retry the same request.
func Retryable(err error) bool {
	return KindOf(err) == KindBusy
}

// OpError ties an error to the operation and entity id it happened on, so the
// id survives up to the log line that reports it.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap returns nil when err is nil.
func Wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// EntityID returns the id attached by the outermost OpError, if any.
func EntityID(err error) string {
	var op *OpError
	if errors.As(err, &op) {
		return op.ID
	}
	return ""
}
