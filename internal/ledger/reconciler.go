package ledger

import (
	"context"
	"fmt"
	"time"

	dbutil "github.com/creditrail/creditrail/internal/db"
	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler periodically recomputes daily summaries from the ledger and
// repairs rows that drifted from the authoritative records.
type Reconciler struct {
	db *gorm.DB
}

// NewReconciler constructs a Reconciler.
func NewReconciler(db *gorm.DB) *Reconciler {
	if db == nil {
		return nil
	}
	return &Reconciler{db: db}
}

// Start launches the reconcile loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("summary reconciler started (interval=%s)", settings.SummaryReconcileInterval())
}

func (r *Reconciler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(settings.SummaryReconcileInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
		if fixed, errReconcile := r.ReconcileOnce(ctx); errReconcile != nil {
			log.WithError(errReconcile).Warn("summary reconciler: run failed")
		} else if fixed > 0 {
			log.Infof("summary reconciler: repaired %d drifted rows", fixed)
		}
	}
}

// summaryAggregate mirrors the recomputed totals for one account/day pair.
type summaryAggregate struct {
	AccountID         string
	Day               string
	TotalRequests     int64
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
	VendorCostMicros  int64
	GrossMarginMicros int64
	CreditsCharged    int64
}

// ReconcileOnce recomputes every summary row from the ledger, fixes drifted
// rows, and returns how many it repaired.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	expected, errExpected := r.expectedSummaries(ctx)
	if errExpected != nil {
		return 0, errExpected
	}

	var stored []models.DailySummary
	if errFind := r.db.WithContext(ctx).Find(&stored).Error; errFind != nil {
		return 0, fmt.Errorf("ledger: load summaries: %w", errFind)
	}
	storedByKey := make(map[string]*models.DailySummary, len(stored))
	for i := range stored {
		row := &stored[i]
		storedByKey[row.AccountID+"\x00"+row.Day] = row
	}

	fixed := 0
	for key, want := range expected {
		have := storedByKey[key]
		if have != nil && summaryMatches(have, want) {
			continue
		}
		if have != nil {
			log.Warnf("summary reconciler: drift for account=%s day=%s (stored credits=%d recomputed credits=%d)",
				want.AccountID, want.Day, have.CreditsCharged, want.CreditsCharged)
		}
		if errUpsert := r.upsertAggregate(ctx, want); errUpsert != nil {
			return fixed, errUpsert
		}
		fixed++
	}
	return fixed, nil
}

// expectedSummaries rebuilds per-account/day totals from the ledger tables.
// Tokens and vendor cost come from charged usage records; credits come from
// deduction records so reversals are reflected.
func (r *Reconciler) expectedSummaries(ctx context.Context) (map[string]*summaryAggregate, error) {
	dayExpr := dbutil.DateExpr(r.db, "completed_at")

	var usageRows []summaryAggregate
	if errScan := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(fmt.Sprintf(`account_id,
			%s AS day,
			COUNT(*) AS total_requests,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cached_input_tokens), 0) AS cached_input_tokens,
			COALESCE(SUM(vendor_cost_micros), 0) AS vendor_cost_micros,
			COALESCE(SUM(gross_margin_micros), 0) AS gross_margin_micros`, dayExpr)).
		Where("status = ?", models.UsageStatusSuccess).
		Group("account_id").Group(dayExpr).
		Scan(&usageRows).Error; errScan != nil {
		return nil, fmt.Errorf("ledger: aggregate usage: %w", errScan)
	}

	out := make(map[string]*summaryAggregate, len(usageRows))
	for i := range usageRows {
		row := usageRows[i]
		out[row.AccountID+"\x00"+row.Day] = &row
	}

	// Credits group under the usage completion day, not the deduction row's
	// creation day, so a charge processed after midnight stays on one row.
	dedDayExpr := dbutil.DateExpr(r.db, "usage_records.completed_at")
	var creditRows []summaryAggregate
	if errScan := r.db.WithContext(ctx).
		Model(&models.DeductionRecord{}).
		Select(fmt.Sprintf("deduction_records.account_id AS account_id, %s AS day, COALESCE(SUM(deduction_records.amount), 0) AS credits_charged", dedDayExpr)).
		Joins("JOIN usage_records ON usage_records.request_id = deduction_records.request_id").
		Where("deduction_records.reason = ? AND deduction_records.status = ?", models.DeductionReasonUsage, models.DeductionStatusCompleted).
		Group("deduction_records.account_id").Group(dedDayExpr).
		Scan(&creditRows).Error; errScan != nil {
		return nil, fmt.Errorf("ledger: aggregate deductions: %w", errScan)
	}
	for _, row := range creditRows {
		key := row.AccountID + "\x00" + row.Day
		if agg, ok := out[key]; ok {
			agg.CreditsCharged = row.CreditsCharged
			continue
		}
		out[key] = &summaryAggregate{AccountID: row.AccountID, Day: row.Day, CreditsCharged: row.CreditsCharged}
	}
	return out, nil
}

func summaryMatches(have *models.DailySummary, want *summaryAggregate) bool {
	return have.TotalRequests == want.TotalRequests &&
		have.InputTokens == want.InputTokens &&
		have.OutputTokens == want.OutputTokens &&
		have.CachedInputTokens == want.CachedInputTokens &&
		have.VendorCostMicros == want.VendorCostMicros &&
		have.CreditsCharged == want.CreditsCharged &&
		have.GrossMarginMicros == want.GrossMarginMicros
}

func (r *Reconciler) upsertAggregate(ctx context.Context, want *summaryAggregate) error {
	row := models.DailySummary{
		AccountID:         want.AccountID,
		Day:               want.Day,
		TotalRequests:     want.TotalRequests,
		InputTokens:       want.InputTokens,
		OutputTokens:      want.OutputTokens,
		CachedInputTokens: want.CachedInputTokens,
		VendorCostMicros:  want.VendorCostMicros,
		CreditsCharged:    want.CreditsCharged,
		GrossMarginMicros: want.GrossMarginMicros,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: summaryConflictColumns,
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests":      want.TotalRequests,
				"input_tokens":        want.InputTokens,
				"output_tokens":       want.OutputTokens,
				"cached_input_tokens": want.CachedInputTokens,
				"vendor_cost_micros":  want.VendorCostMicros,
				"credits_charged":     want.CreditsCharged,
				"gross_margin_micros": want.GrossMarginMicros,
				"updated_at":          time.Now().UTC(),
			}),
		}).
		Create(&row).Error
}
