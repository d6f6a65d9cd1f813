package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
)

// Query bounds for history reads.
const (
	// DefaultHistoryLimit is the page size used when none is given.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 1000
)

// DeductionByRequestID loads the deduction record for an idempotency key.
// Returns (nil, nil) when no record exists.
func DeductionByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*models.DeductionRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if db == nil || requestID == "" {
		return nil, nil
	}

	var record models.DeductionRecord
	errFind := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Take(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errFind
	}
	return &record, nil
}

// UsageByRequestID loads the usage record for an idempotency key.
// Returns (nil, nil) when no record exists.
func UsageByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*models.UsageRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if db == nil || requestID == "" {
		return nil, nil
	}

	var record models.UsageRecord
	errFind := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Take(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errFind
	}
	return &record, nil
}

// History returns committed deduction records for an account within
// [from, until), ordered by ID ascending. The read restarts from afterID, so
// a caller can page through an arbitrarily long ledger.
func History(ctx context.Context, db *gorm.DB, accountID string, from, until time.Time, afterID uint64, limit int) ([]models.DeductionRecord, error) {
	if db == nil {
		return nil, errors.New("ledger: nil db")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("ledger: empty account id")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	q := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Limit(limit)
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from.UTC())
	}
	if !until.IsZero() {
		q = q.Where("created_at < ?", until.UTC())
	}

	var records []models.DeductionRecord
	if errFind := q.Find(&records).Error; errFind != nil {
		return nil, errFind
	}
	return records, nil
}
