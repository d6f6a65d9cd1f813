package deduct

import (
	"errors"
	"fmt"
	"time"
)

// Terminal lookup errors.
var (
	// ErrAccountNotFound indicates the account has no balance row.
	ErrAccountNotFound = errors.New("deduct: account not found")
	// ErrDeductionNotFound indicates the reversal target does not exist.
	ErrDeductionNotFound = errors.New("deduct: deduction record not found")
)

// ValidationError reports malformed input rejected before any persistence.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("deduct: invalid %s: %s", e.Field, e.Reason)
}

// InsufficientCreditsError reports a balance below the required charge.
// Nothing is persisted when it is returned.
type InsufficientCreditsError struct {
	CurrentBalance int64
	Required       int64
	Shortfall      int64
}

// Error implements the error interface.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("deduct: insufficient credits: balance=%d required=%d shortfall=%d",
		e.CurrentBalance, e.Required, e.Shortfall)
}

// TransactionConflictError reports exhausted lock or serialization retries.
// The charge was not applied; the caller may retry the whole operation.
type TransactionConflictError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("deduct: transaction conflict after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the underlying contention error.
func (e *TransactionConflictError) Unwrap() error { return e.Err }

// AlreadyReversedError reports a second reversal attempt on the same record.
type AlreadyReversedError struct {
	DeductionRecordID uint64
	ReversedAt        time.Time
}

// Error implements the error interface.
func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("deduct: deduction %d already reversed at %s",
		e.DeductionRecordID, e.ReversedAt.UTC().Format(time.RFC3339))
}
