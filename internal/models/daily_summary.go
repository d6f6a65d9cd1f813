package models

import "time"

// DailySummary is a derived per-account, per-day rollup of the ledger.
//
// Rows are maintained incrementally at deduction time and are never
// authoritative: the reconciler can rebuild any row from the ledger.
type DailySummary struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_daily_summaries_account_day"` // Account identifier.
	Day       string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_summaries_account_day"`  // UTC day, formatted 2006-01-02.

	TotalRequests     int64 `gorm:"not null;default:0"` // Charged requests that day.
	InputTokens       int64 `gorm:"not null;default:0"` // Input token total.
	OutputTokens      int64 `gorm:"not null;default:0"` // Output token total.
	CachedInputTokens int64 `gorm:"not null;default:0"` // Cached input token total.
	VendorCostMicros  int64 `gorm:"not null;default:0"` // Vendor cost total in micro-USD.
	CreditsCharged    int64 `gorm:"not null;default:0"` // Credits charged, net of reversals.
	GrossMarginMicros int64 `gorm:"not null;default:0"` // Gross margin total in micro-USD.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// SummaryDay formats a timestamp as the UTC day key used by DailySummary.
func SummaryDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
