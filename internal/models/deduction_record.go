package models

import "time"

// Deduction record status values.
const (
	// DeductionStatusCompleted marks an applied deduction.
	DeductionStatusCompleted = "completed"
	// DeductionStatusReversed marks a deduction undone by a reversal.
	DeductionStatusReversed = "reversed"
)

// Deduction reason values.
const (
	// DeductionReasonUsage marks a charge for a completed model call.
	DeductionReasonUsage = "usage"
	// DeductionReasonGrant marks a credit grant (negative amount).
	DeductionReasonGrant = "credit_grant"
)

// DeductionRecord is the immutable "what was charged" side of the ledger.
//
// Amount, BalanceBefore and BalanceAfter are never mutated after creation;
// BalanceAfter = BalanceBefore - Amount. Only the reversal fields may be set
// later, exactly once.
type DeductionRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(255);not null;index"` // Charged account.

	Amount        int64 `gorm:"not null"` // Credits deducted; negative for grants.
	BalanceBefore int64 `gorm:"not null"` // Balance read under lock before the write.
	BalanceAfter  int64 `gorm:"not null"` // Balance committed by this record.

	RequestID string `gorm:"type:varchar(255);not null;uniqueIndex"` // Idempotency key.
	Reason    string `gorm:"type:varchar(64);not null"`              // Why the balance changed.

	Status string `gorm:"type:varchar(32);not null;index"` // completed or reversed.

	ReversedAt     *time.Time // Reversal timestamp, if reversed.
	ReversedBy     string     `gorm:"type:varchar(255)"` // Actor who reversed the deduction.
	ReversalReason string     `gorm:"type:text"`         // Stated reversal reason.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Commit timestamp.
}
