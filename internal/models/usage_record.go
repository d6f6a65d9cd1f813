package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage record status values.
const (
	// UsageStatusSuccess marks a completed, charged request.
	UsageStatusSuccess = "success"
	// UsageStatusFailed marks a failed upstream request.
	UsageStatusFailed = "failed"
	// UsageStatusCancelled marks a request abandoned by the caller.
	UsageStatusCancelled = "cancelled"
)

// UsageRecord is the immutable "what happened" side of the ledger.
//
// The resolved price and multiplier are copied into the row at write time so
// later pricing changes never alter historical meaning. The only permitted
// update after creation is attaching DeductionRecordID.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:varchar(255);not null;uniqueIndex"` // Idempotency key.
	AccountID string `gorm:"type:varchar(255);not null;index"`       // Charged account.

	Provider string `gorm:"type:varchar(255);not null;index"` // Provider name.
	Model    string `gorm:"type:varchar(255);not null;index"` // Model name.
	Tier     string `gorm:"type:varchar(255)"`                // Account tier at request time.

	InputTokens       int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens      int64 `gorm:"not null;default:0"` // Output token count.
	CachedInputTokens int64 `gorm:"not null;default:0"` // Cached input token count.
	TotalTokens       int64 `gorm:"not null;default:0"` // Total token count.

	VendorCostMicros  int64   `gorm:"not null;default:0"`           // Vendor cost in micro-USD.
	MarginMultiplier  float64 `gorm:"type:decimal(20,10);not null"` // Resolved margin multiplier.
	CreditsCharged    int64   `gorm:"not null;default:0"`           // Integer credits charged.
	GrossMarginMicros int64   `gorm:"not null;default:0"`           // Gross margin in micro-USD.

	Status string `gorm:"type:varchar(32);not null;index"` // Request outcome.

	StartedAt   time.Time `gorm:"not null"`       // Upstream call start.
	CompletedAt time.Time `gorm:"not null;index"` // Upstream call completion; pricing instant.

	DeductionRecordID *uint64 `gorm:"index"` // Linked deduction, set within the same unit of work.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Optional caller-supplied metadata.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
