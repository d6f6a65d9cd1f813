package deduct

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/ledger"
	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReversalResult reports a committed reversal.
type ReversalResult struct {
	DeductionRecordID uint64    `json:"deduction_record_id"`
	AccountID         string    `json:"account_id"`
	AmountRestored    int64     `json:"amount_restored"`
	BalanceAfter      int64     `json:"balance_after"`
	ReversedAt        time.Time `json:"reversed_at"`
}

// Reverse undoes a specific prior deduction, crediting the account back by
// exactly the deducted amount.
//
// Sufficiency is never checked (crediting back is always allowed). The
// status check makes the operation safe to call twice: the second call fails
// with AlreadyReversedError and leaves the balance untouched.
func (e *Engine) Reverse(ctx context.Context, deductionRecordID uint64, reason, actor string) (*ReversalResult, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("deduct: engine not initialized")
	}
	if deductionRecordID == 0 {
		return nil, ErrDeductionNotFound
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, &ValidationError{Field: "actor", Reason: "must not be empty"}
	}
	reason = strings.TrimSpace(reason)

	var result *ReversalResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.DeductionRecord
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", deductionRecordID).
			First(&record).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrDeductionNotFound
			}
			return errLock
		}

		if record.Status == models.DeductionStatusReversed {
			reversedAt := time.Time{}
			if record.ReversedAt != nil {
				reversedAt = *record.ReversedAt
			}
			return &AlreadyReversedError{DeductionRecordID: record.ID, ReversedAt: reversedAt}
		}
		if record.Reason != models.DeductionReasonUsage {
			return &ValidationError{Field: "deduction_record_id", Reason: "only usage deductions can be reversed"}
		}

		var account models.Account
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", record.AccountID).
			First(&account).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return errLock
		}

		if errUpdate := tx.Model(&models.Account{}).
			Where("account_id = ?", record.AccountID).
			Update("credits", gorm.Expr("credits + ?", record.Amount)).Error; errUpdate != nil {
			return errUpdate
		}

		now := time.Now().UTC()
		if errMark := tx.Model(&models.DeductionRecord{}).
			Where("id = ? AND status = ?", record.ID, models.DeductionStatusCompleted).
			Updates(map[string]any{
				"status":          models.DeductionStatusReversed,
				"reversed_at":     now,
				"reversed_by":     actor,
				"reversal_reason": reason,
			}).Error; errMark != nil {
			return errMark
		}

		// The charge was summarized under the usage completion day, which
		// can differ from the deduction row's creation day.
		usage, errFind := ledger.UsageByRequestID(ctx, tx, record.RequestID)
		if errFind != nil {
			return errFind
		}
		day := models.SummaryDay(record.CreatedAt)
		if usage != nil {
			day = models.SummaryDay(usage.CompletedAt)
		}
		if errSummary := ledger.ApplyReversal(ctx, tx, &record, day); errSummary != nil {
			return errSummary
		}

		result = &ReversalResult{
			DeductionRecordID: record.ID,
			AccountID:         record.AccountID,
			AmountRestored:    record.Amount,
			BalanceAfter:      account.Credits + record.Amount,
			ReversedAt:        now,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return result, nil
}
