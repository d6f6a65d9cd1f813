package deduct

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GrantResult reports a committed credit grant.
type GrantResult struct {
	DeductionRecordID uint64 `json:"deduction_record_id"`
	AccountID         string `json:"account_id"`
	Amount            int64  `json:"amount"`
	BalanceAfter      int64  `json:"balance_after"`
}

// GetBalance returns the current credit balance for an account.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if e == nil || e.db == nil {
		return 0, errors.New("deduct: engine not initialized")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, &ValidationError{Field: "account_id", Reason: "must not be empty"}
	}

	var account models.Account
	if errFind := e.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, errFind
	}
	return account.Credits, nil
}

// Grant adds credits to an account, creating the balance row on first use,
// and writes an audit entry to the deduction ledger (negative amount).
//
// Balance creation and adjustment are decided by external commercial
// workflows; this is the managed write path they call.
func (e *Engine) Grant(ctx context.Context, accountID string, amount int64, reason string) (*GrantResult, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("deduct: engine not initialized")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, &ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.DeductionReasonGrant
	}

	var result *GrantResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&account).Error
		if errLock != nil {
			if !errors.Is(errLock, gorm.ErrRecordNotFound) {
				return errLock
			}
			account = models.Account{AccountID: accountID}
			if errCreate := tx.Create(&account).Error; errCreate != nil {
				return errCreate
			}
		}

		balanceBefore := account.Credits
		balanceAfter := balanceBefore + amount

		if errUpdate := tx.Model(&models.Account{}).
			Where("account_id = ?", accountID).
			Update("credits", gorm.Expr("credits + ?", amount)).Error; errUpdate != nil {
			return errUpdate
		}

		record := models.DeductionRecord{
			AccountID:     accountID,
			Amount:        -amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceAfter,
			RequestID:     "grant-" + uuid.NewString(),
			Reason:        reason,
			Status:        models.DeductionStatusCompleted,
			CreatedAt:     time.Now().UTC(),
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return errCreate
		}

		result = &GrantResult{
			DeductionRecordID: record.ID,
			AccountID:         accountID,
			Amount:            amount,
			BalanceAfter:      balanceAfter,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return result, nil
}
