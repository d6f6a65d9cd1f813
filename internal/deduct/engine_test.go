package deduct

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/db"
	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/pricing"
	"gorm.io/gorm"
)

var completedAt = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*gorm.DB, *Engine) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	rate := models.PricingRate{
		Provider:         "openai",
		Model:            "gpt-4o",
		InputPricePer1K:  0.003,
		OutputPricePer1K: 0.006,
		EffectiveFrom:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		IsEnabled:        true,
	}
	if errCreate := conn.Create(&rate).Error; errCreate != nil {
		t.Fatalf("seed rate: %v", errCreate)
	}

	catalog := pricing.NewCatalog(conn)
	if errRefresh := catalog.Refresh(context.Background()); errRefresh != nil {
		t.Fatalf("refresh catalog: %v", errRefresh)
	}
	return conn, NewEngine(conn, catalog, nil)
}

func seedAccount(t *testing.T, conn *gorm.DB, accountID string, credits int64) {
	t.Helper()
	account := models.Account{AccountID: accountID, Credits: credits}
	if errCreate := conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("seed account: %v", errCreate)
	}
}

// standardInput charges 9 credits at the default 1.5x multiplier:
// 10000 input at $0.003/1K plus 5000 output at $0.006/1K is $0.06, so
// 60000 micros * 1.5 / 10000 = 9.
func standardInput(requestID string) DeductInput {
	return DeductInput{
		AccountID:   "acct-1",
		Provider:    "openai",
		Model:       "gpt-4o",
		Tier:        "pro",
		RequestID:   requestID,
		Tokens:      pricing.TokenCounts{Input: 10000, Output: 5000},
		StartedAt:   completedAt.Add(-2 * time.Second),
		CompletedAt: completedAt,
	}
}

func TestDeductChargesAndRecords(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 100)
	ctx := context.Background()

	result, errDeduct := engine.Deduct(ctx, standardInput("req-1"))
	if errDeduct != nil {
		t.Fatalf("deduct: %v", errDeduct)
	}
	if result.Duplicate {
		t.Fatal("first deduction must not be marked duplicate")
	}
	if result.CreditsCharged != 9 {
		t.Fatalf("expected 9 credits charged, got %d", result.CreditsCharged)
	}
	if result.BalanceBefore != 100 || result.BalanceAfter != 91 {
		t.Fatalf("expected balance 100 -> 91, got %d -> %d", result.BalanceBefore, result.BalanceAfter)
	}
	if result.VendorCostMicros != 60000 {
		t.Fatalf("expected vendor cost 60000 micros, got %d", result.VendorCostMicros)
	}
	if result.MarginMultiplier != 1.5 {
		t.Fatalf("expected default multiplier 1.5, got %v", result.MarginMultiplier)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 91 {
		t.Fatalf("expected stored balance 91, got %d", account.Credits)
	}

	var usage models.UsageRecord
	if errFind := conn.Where("request_id = ?", "req-1").Take(&usage).Error; errFind != nil {
		t.Fatalf("load usage record: %v", errFind)
	}
	if usage.CreditsCharged != 9 || usage.VendorCostMicros != 60000 {
		t.Fatalf("usage record mismatch: credits=%d cost=%d", usage.CreditsCharged, usage.VendorCostMicros)
	}
	if usage.GrossMarginMicros != 30000 {
		t.Fatalf("expected gross margin 30000 micros, got %d", usage.GrossMarginMicros)
	}
	if usage.DeductionRecordID == nil || *usage.DeductionRecordID != result.DeductionRecordID {
		t.Fatal("usage record must link its deduction record")
	}

	var summary models.DailySummary
	if errFind := conn.Where("account_id = ? AND day = ?", "acct-1", "2025-06-15").Take(&summary).Error; errFind != nil {
		t.Fatalf("load daily summary: %v", errFind)
	}
	if summary.TotalRequests != 1 || summary.CreditsCharged != 9 {
		t.Fatalf("summary mismatch: requests=%d credits=%d", summary.TotalRequests, summary.CreditsCharged)
	}
}

func TestDeductReplayIsIdempotent(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 100)
	ctx := context.Background()

	first, errDeduct := engine.Deduct(ctx, standardInput("req-dup"))
	if errDeduct != nil {
		t.Fatalf("first deduct: %v", errDeduct)
	}

	second, errDeduct := engine.Deduct(ctx, standardInput("req-dup"))
	if errDeduct != nil {
		t.Fatalf("replay deduct: %v", errDeduct)
	}
	if !second.Duplicate {
		t.Fatal("replay must be marked duplicate")
	}
	if second.DeductionRecordID != first.DeductionRecordID {
		t.Fatalf("replay must return the original record, got %d vs %d", second.DeductionRecordID, first.DeductionRecordID)
	}
	if second.BalanceAfter != first.BalanceAfter || second.CreditsCharged != first.CreditsCharged {
		t.Fatal("replay must return the original amounts")
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 91 {
		t.Fatalf("replay must not charge again, balance is %d", account.Credits)
	}

	var usageCount int64
	if errCount := conn.Model(&models.UsageRecord{}).Where("request_id = ?", "req-dup").Count(&usageCount).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if usageCount != 1 {
		t.Fatalf("expected exactly one usage record, got %d", usageCount)
	}
}

func TestDeductInsufficientCredits(t *testing.T) {
	conn, engine := newTestEngine(t)
	ctx := context.Background()

	// A provider margin of 2.0 over a $1 vendor cost requires 200 credits.
	margin := models.MarginConfig{
		ScopeType:      models.MarginScopeProvider,
		Provider:       "openai",
		Multiplier:     2.0,
		EffectiveFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ApprovalStatus: models.MarginApprovalApproved,
		IsEnabled:      true,
	}
	if errCreate := conn.Create(&margin).Error; errCreate != nil {
		t.Fatalf("seed margin: %v", errCreate)
	}
	if errRefresh := engine.catalog.Refresh(ctx); errRefresh != nil {
		t.Fatalf("refresh catalog: %v", errRefresh)
	}
	seedAccount(t, conn, "acct-1", 91)

	in := standardInput("req-poor")
	// 200000*0.003 + 66666*0.006 = 0.999996 USD = 999996 micros, times 2.0
	// is 199.9992 credits, rounded up to 200.
	in.Tokens = pricing.TokenCounts{Input: 200000, Output: 66666}

	_, errDeduct := engine.Deduct(ctx, in)
	var insufficient *InsufficientCreditsError
	if !errors.As(errDeduct, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", errDeduct)
	}
	if insufficient.CurrentBalance != 91 || insufficient.Required != 200 || insufficient.Shortfall != 109 {
		t.Fatalf("error fields mismatch: %+v", insufficient)
	}

	// A failed charge leaves no trace and no balance change.
	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 91 {
		t.Fatalf("balance must be untouched, got %d", account.Credits)
	}
	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no usage records, got %d", count)
	}
	if errCount := conn.Model(&models.DeductionRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count deductions: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no deduction records, got %d", count)
	}
}

func TestDeductUnknownModelLeavesNoTrace(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 100)
	ctx := context.Background()

	in := standardInput("req-unknown")
	in.Model = "nonexistent-model"

	_, errDeduct := engine.Deduct(ctx, in)
	var notFound *pricing.RateNotFoundError
	if !errors.As(errDeduct, &notFound) {
		t.Fatalf("expected RateNotFoundError, got %v", errDeduct)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 100 {
		t.Fatalf("balance must be untouched, got %d", account.Credits)
	}
	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("a missing rate must not write usage records, got %d", count)
	}
}

func TestDeductValidation(t *testing.T) {
	_, engine := newTestEngine(t)
	ctx := context.Background()

	in := standardInput("req-v")
	in.Tokens.Input = -1
	_, errDeduct := engine.Deduct(ctx, in)
	var validation *ValidationError
	if !errors.As(errDeduct, &validation) || validation.Field != "input_tokens" {
		t.Fatalf("expected input_tokens validation error, got %v", errDeduct)
	}

	in = standardInput("")
	_, errDeduct = engine.Deduct(ctx, in)
	if !errors.As(errDeduct, &validation) || validation.Field != "request_id" {
		t.Fatalf("expected request_id validation error, got %v", errDeduct)
	}

	in = standardInput("req-v2")
	in.CompletedAt = time.Time{}
	_, errDeduct = engine.Deduct(ctx, in)
	if !errors.As(errDeduct, &validation) || validation.Field != "completed_at" {
		t.Fatalf("expected completed_at validation error, got %v", errDeduct)
	}
}

func TestDeductUnknownAccount(t *testing.T) {
	_, engine := newTestEngine(t)
	_, errDeduct := engine.Deduct(context.Background(), standardInput("req-noacct"))
	if !errors.Is(errDeduct, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", errDeduct)
	}
}

func TestReverseRestoresAndRejectsSecond(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 100)
	ctx := context.Background()

	result, errDeduct := engine.Deduct(ctx, standardInput("req-rev"))
	if errDeduct != nil {
		t.Fatalf("deduct: %v", errDeduct)
	}

	reversal, errReverse := engine.Reverse(ctx, result.DeductionRecordID, "customer complaint", "ops@example.com")
	if errReverse != nil {
		t.Fatalf("reverse: %v", errReverse)
	}
	if reversal.AmountRestored != 9 || reversal.BalanceAfter != 100 {
		t.Fatalf("expected 9 credits restored to 100, got %+v", reversal)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 100 {
		t.Fatalf("expected balance restored to 100, got %d", account.Credits)
	}

	var record models.DeductionRecord
	if errFind := conn.Where("id = ?", result.DeductionRecordID).Take(&record).Error; errFind != nil {
		t.Fatalf("load record: %v", errFind)
	}
	if record.Status != models.DeductionStatusReversed || record.ReversedBy != "ops@example.com" {
		t.Fatalf("record not marked reversed: %+v", record)
	}

	// Reversing twice must fail and leave the balance untouched.
	_, errReverse = engine.Reverse(ctx, result.DeductionRecordID, "again", "ops@example.com")
	var already *AlreadyReversedError
	if !errors.As(errReverse, &already) {
		t.Fatalf("expected AlreadyReversedError, got %v", errReverse)
	}
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if account.Credits != 100 {
		t.Fatalf("second reversal must not change the balance, got %d", account.Credits)
	}

	// The day's summary no longer counts the reversed charge.
	var summary models.DailySummary
	if errFind := conn.Where("account_id = ? AND day = ?", "acct-1", "2025-06-15").Take(&summary).Error; errFind != nil {
		t.Fatalf("load summary: %v", errFind)
	}
	if summary.CreditsCharged != 0 {
		t.Fatalf("expected reversed credits removed from summary, got %d", summary.CreditsCharged)
	}
	if summary.TotalRequests != 1 || summary.VendorCostMicros != 60000 {
		t.Fatal("reversal must not rewrite usage totals")
	}
}

func TestReverseUnknownRecord(t *testing.T) {
	_, engine := newTestEngine(t)
	_, errReverse := engine.Reverse(context.Background(), 99999, "", "ops")
	if !errors.Is(errReverse, ErrDeductionNotFound) {
		t.Fatalf("expected ErrDeductionNotFound, got %v", errReverse)
	}
}

func TestReverseRejectsGrantRecords(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 0)
	ctx := context.Background()

	grant, errGrant := engine.Grant(ctx, "acct-1", 50, "")
	if errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	_, errReverse := engine.Reverse(ctx, grant.DeductionRecordID, "", "ops")
	var validation *ValidationError
	if !errors.As(errReverse, &validation) {
		t.Fatalf("expected ValidationError for grant reversal, got %v", errReverse)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 50 {
		t.Fatalf("balance must be untouched, got %d", account.Credits)
	}
}

func TestGrantCreatesAccountAndLedgerEntry(t *testing.T) {
	conn, engine := newTestEngine(t)
	ctx := context.Background()

	result, errGrant := engine.Grant(ctx, "acct-new", 500, "initial topup")
	if errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}
	if result.BalanceAfter != 500 {
		t.Fatalf("expected balance 500, got %d", result.BalanceAfter)
	}

	var record models.DeductionRecord
	if errFind := conn.Where("id = ?", result.DeductionRecordID).Take(&record).Error; errFind != nil {
		t.Fatalf("load grant record: %v", errFind)
	}
	if record.Amount != -500 || record.Reason != "initial topup" {
		t.Fatalf("grant record mismatch: %+v", record)
	}

	second, errGrant := engine.Grant(ctx, "acct-new", 100, "")
	if errGrant != nil {
		t.Fatalf("second grant: %v", errGrant)
	}
	if second.BalanceAfter != 600 {
		t.Fatalf("expected balance 600, got %d", second.BalanceAfter)
	}
}

func TestRecordFailureIsIdempotentAndFree(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 100)
	ctx := context.Background()

	in := standardInput("req-fail")
	first, errRecord := engine.RecordFailure(ctx, in, models.UsageStatusFailed)
	if errRecord != nil {
		t.Fatalf("record failure: %v", errRecord)
	}
	if first.CreditsCharged != 0 || first.Status != models.UsageStatusFailed {
		t.Fatalf("failure record mismatch: %+v", first)
	}

	second, errRecord := engine.RecordFailure(ctx, in, models.UsageStatusFailed)
	if errRecord != nil {
		t.Fatalf("replayed record failure: %v", errRecord)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the stored record on replay, got %d vs %d", second.ID, first.ID)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 100 {
		t.Fatalf("failures must not charge, balance is %d", account.Credits)
	}

	_, errRecord = engine.RecordFailure(ctx, in, models.UsageStatusSuccess)
	var validation *ValidationError
	if !errors.As(errRecord, &validation) || validation.Field != "status" {
		t.Fatalf("expected status validation error, got %v", errRecord)
	}
}

func TestConcurrentDeductsConserveBalance(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 50)
	ctx := context.Background()

	// Each request costs 30000 micros, 5 credits at 1.5x. Ten writers race
	// for a 50 credit balance; exactly ten times 5 credits fit.
	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in := standardInput(fmt.Sprintf("req-conc-%d", n))
			in.Tokens = pricing.TokenCounts{Input: 10000} // $0.03 = 5 credits.
			_, errs[n] = engine.Deduct(ctx, in)
		}(i)
	}
	wg.Wait()

	for i, errDeduct := range errs {
		if errDeduct != nil {
			t.Fatalf("worker %d: %v", i, errDeduct)
		}
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits != 0 {
		t.Fatalf("expected balance drained to 0, got %d", account.Credits)
	}

	// Conservation: the ledger accounts for every credit moved.
	var total int64
	if errSum := conn.Model(&models.DeductionRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; errSum != nil {
		t.Fatalf("sum deductions: %v", errSum)
	}
	if total != 50 {
		t.Fatalf("expected 50 credits across the ledger, got %d", total)
	}

	var count int64
	if errCount := conn.Model(&models.DeductionRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count deductions: %v", errCount)
	}
	if count != workers {
		t.Fatalf("expected %d deduction records, got %d", workers, count)
	}
}

func TestConcurrentDeductsOversubscribedNeverGoNegative(t *testing.T) {
	conn, engine := newTestEngine(t)
	seedAccount(t, conn, "acct-1", 12)
	ctx := context.Background()

	// Ten workers race for 5 credits each against a 12 credit balance.
	// Only two charges fit; the rest must be rejected cleanly and the
	// balance must never go below zero.
	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in := standardInput(fmt.Sprintf("req-over-%d", n))
			in.Tokens = pricing.TokenCounts{Input: 10000} // $0.03 = 5 credits.
			_, errs[n] = engine.Deduct(ctx, in)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, errDeduct := range errs {
		if errDeduct == nil {
			succeeded++
			continue
		}
		var insufficient *InsufficientCreditsError
		var conflict *TransactionConflictError
		if !errors.As(errDeduct, &insufficient) && !errors.As(errDeduct, &conflict) {
			t.Fatalf("worker %d: unexpected failure kind: %v", i, errDeduct)
		}
	}
	if succeeded > 2 {
		t.Fatalf("only 2 charges fit a 12 credit balance, %d committed", succeeded)
	}

	var account models.Account
	if errFind := conn.Where("account_id = ?", "acct-1").Take(&account).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if account.Credits < 0 {
		t.Fatalf("balance must never go negative, got %d", account.Credits)
	}

	// Conservation: every credit that left the balance is in the ledger,
	// and only committed charges wrote rows.
	var total int64
	if errSum := conn.Model(&models.DeductionRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; errSum != nil {
		t.Fatalf("sum deductions: %v", errSum)
	}
	if total != 12-account.Credits {
		t.Fatalf("ledger total %d does not match balance drop %d", total, 12-account.Credits)
	}
	var count int64
	if errCount := conn.Model(&models.DeductionRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count deductions: %v", errCount)
	}
	if int(count) != succeeded {
		t.Fatalf("expected %d deduction records, got %d", succeeded, count)
	}
	var usageCount int64
	if errCount := conn.Model(&models.UsageRecord{}).Count(&usageCount).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if usageCount != count {
		t.Fatalf("rejected charges must leave no usage rows: %d usage vs %d deductions", usageCount, count)
	}
}

func TestEstimateUsesSafetyMargin(t *testing.T) {
	_, engine := newTestEngine(t)

	// Rates only cover instants from 2025-01-01 on; estimates price at now.
	credits, errEstimate := engine.Estimate(context.Background(), "openai", "gpt-4o", "pro", pricing.TokenCounts{Input: 10000, Output: 5000})
	if errEstimate != nil {
		t.Fatalf("estimate: %v", errEstimate)
	}
	// 60000 micros * 1.5 * 1.10 = 99000, rounded up to 10 credits.
	if credits != 10 {
		t.Fatalf("expected conservative estimate of 10 credits, got %d", credits)
	}

	_, errEstimate = engine.Estimate(context.Background(), "openai", "unknown", "pro", pricing.TokenCounts{Input: 10})
	var notFound *pricing.RateNotFoundError
	if !errors.As(errEstimate, &notFound) {
		t.Fatalf("expected RateNotFoundError, got %v", errEstimate)
	}
}
