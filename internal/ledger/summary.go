package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// summaryConflictColumns identifies the daily summary natural key.
var summaryConflictColumns = []clause.Column{{Name: "account_id"}, {Name: "day"}}

// ApplyDeduction folds one charged usage record into its day's summary row.
// Must run inside the same transaction as the ledger writes.
func ApplyDeduction(ctx context.Context, tx *gorm.DB, usage *models.UsageRecord) error {
	if tx == nil {
		return errors.New("ledger: nil tx")
	}
	if usage == nil {
		return errors.New("ledger: nil usage record")
	}

	day := models.SummaryDay(usage.CompletedAt)
	row := models.DailySummary{
		AccountID:         usage.AccountID,
		Day:               day,
		TotalRequests:     1,
		InputTokens:       usage.InputTokens,
		OutputTokens:      usage.OutputTokens,
		CachedInputTokens: usage.CachedInputTokens,
		VendorCostMicros:  usage.VendorCostMicros,
		CreditsCharged:    usage.CreditsCharged,
		GrossMarginMicros: usage.GrossMarginMicros,
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: summaryConflictColumns,
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests":      gorm.Expr("total_requests + ?", 1),
				"input_tokens":        gorm.Expr("input_tokens + ?", usage.InputTokens),
				"output_tokens":       gorm.Expr("output_tokens + ?", usage.OutputTokens),
				"cached_input_tokens": gorm.Expr("cached_input_tokens + ?", usage.CachedInputTokens),
				"vendor_cost_micros":  gorm.Expr("vendor_cost_micros + ?", usage.VendorCostMicros),
				"credits_charged":     gorm.Expr("credits_charged + ?", usage.CreditsCharged),
				"gross_margin_micros": gorm.Expr("gross_margin_micros + ?", usage.GrossMarginMicros),
				"updated_at":          time.Now().UTC(),
			}),
		}).
		Create(&row).Error
}

// ApplyReversal subtracts a reversed deduction's credits from the summary of
// the given day. The day must be the one the charge was summarized under,
// i.e. the usage record's completion day. Token and vendor cost totals stay
// untouched: the usage happened, only the charge was undone.
func ApplyReversal(ctx context.Context, tx *gorm.DB, record *models.DeductionRecord, day string) error {
	if tx == nil {
		return errors.New("ledger: nil tx")
	}
	if record == nil {
		return errors.New("ledger: nil deduction record")
	}

	return tx.WithContext(ctx).
		Model(&models.DailySummary{}).
		Where("account_id = ? AND day = ?", record.AccountID, day).
		Updates(map[string]any{
			"credits_charged": gorm.Expr("credits_charged - ?", record.Amount),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// Summaries returns rollup rows for an account ordered by day descending.
func Summaries(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]models.DailySummary, error) {
	if db == nil {
		return nil, errors.New("ledger: nil db")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("ledger: empty account id")
	}
	if limit <= 0 {
		limit = 30
	}

	var rows []models.DailySummary
	if errFind := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("day DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
