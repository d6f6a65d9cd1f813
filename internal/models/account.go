package models

import "time"

// Account holds the mutable prepaid credit balance for one account.
//
// Credits is a non-negative integer (1 credit = $0.01 of billable value) and
// is written only by the deduction engine, the reversal path, and credit
// grants.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(255);not null;uniqueIndex"` // External account identifier.
	Credits   int64  `gorm:"not null;default:0"`                     // Current credit balance.

	LastDeductionAt     *time.Time // Time of the most recent deduction.
	LastDeductionAmount int64      `gorm:"not null;default:0"` // Amount of the most recent deduction.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
