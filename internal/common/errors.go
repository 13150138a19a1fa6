// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Classification errors. Both force a conservative NEEDS_REVIEW,
	// never an auto-approval.
	ErrInsufficientData      = errors.New("transaction has insufficient data to classify")
	ErrClassifierUnavailable = errors.New("classifier service unavailable")

	// Matching errors.
	ErrMatchAmbiguous = errors.New("match candidates are ambiguous")

	// Execution errors.
	ErrAlreadyExecuted = errors.New("action already executed for transaction")
	ErrVersionConflict = errors.New("obligation version conflict")

	// Ledger errors. A failed ledger write is fatal for that
	// transaction's pipeline run; the transaction is parked and retried.
	ErrLedgerWrite  = errors.New("ledger write failed")
	ErrChainBroken  = errors.New("audit chain verification failed")
	ErrLedgerClosed = errors.New("ledger writer closed")

	// Pipeline errors.
	ErrDuplicateTransaction = errors.New("transaction already admitted")
	ErrMissingTenantConfig  = errors.New("missing tenant automation settings")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry. Transient
// failures (network, timeout, version races) retry; everything else
// surfaces to the review queue.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrClassifierUnavailable) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
