package deduct

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/cache"
	dbutil "github.com/creditrail/creditrail/internal/db"
	"github.com/creditrail/creditrail/internal/ledger"
	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/pricing"
	"github.com/creditrail/creditrail/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errBalanceContended signals that the guarded balance update matched no row
// after the sufficiency check passed, i.e. a concurrent writer got there
// first. Always retried.
var errBalanceContended = errors.New("deduct: balance row contended")

// Engine applies usage charges to account balances atomically.
//
// It is the only writer of account balances besides the reversal and grant
// paths, and every write happens inside one all-or-nothing transaction
// together with the ledger rows.
type Engine struct {
	db      *gorm.DB
	catalog *pricing.Catalog
	replay  *cache.ReplayCache
}

// NewEngine constructs an Engine. The replay cache may be nil.
func NewEngine(db *gorm.DB, catalog *pricing.Catalog, replay *cache.ReplayCache) *Engine {
	return &Engine{db: db, catalog: catalog, replay: replay}
}

// DeductInput carries the actual usage of one completed model call.
type DeductInput struct {
	AccountID string              `json:"account_id"`
	Provider  string              `json:"provider"`
	Model     string              `json:"model"`
	Tier      string              `json:"tier"`
	RequestID string              `json:"request_id"`
	Tokens    pricing.TokenCounts `json:"tokens"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// DeductionResult reports a committed (or replayed) deduction.
type DeductionResult struct {
	DeductionRecordID uint64  `json:"deduction_record_id"`
	RequestID         string  `json:"request_id"`
	AccountID         string  `json:"account_id"`
	BalanceBefore     int64   `json:"balance_before"`
	BalanceAfter      int64   `json:"balance_after"`
	CreditsCharged    int64   `json:"credits_charged"`
	VendorCostMicros  int64   `json:"vendor_cost_micros"`
	MarginMultiplier  float64 `json:"margin_multiplier"`
	Duplicate         bool    `json:"duplicate"`
}

// Deduct converts actual token usage into a credit charge and applies it.
//
// The operation is idempotent on RequestID: a replay returns the stored
// result without touching the balance. Business failures surface as typed
// errors (InsufficientCreditsError, pricing.RateNotFoundError,
// TransactionConflictError) and leave no trace in the ledger.
func (e *Engine) Deduct(ctx context.Context, in DeductInput) (*DeductionResult, error) {
	if e == nil || e.db == nil || e.catalog == nil {
		return nil, errors.New("deduct: engine not initialized")
	}
	if errValidate := validateDeductInput(&in); errValidate != nil {
		return nil, errValidate
	}

	if cached := e.replayFromCache(ctx, in.RequestID); cached != nil {
		return cached, nil
	}
	if existing, errFind := ledger.DeductionByRequestID(ctx, e.db, in.RequestID); errFind != nil {
		return nil, errFind
	} else if existing != nil {
		return e.replayFromRecord(ctx, e.db, existing)
	}

	rate, errRate := e.catalog.ResolveRate(in.Provider, in.Model, in.CompletedAt)
	if errRate != nil {
		return nil, errRate
	}
	multiplier := e.catalog.ResolveMultiplier(in.Tier, in.Provider, in.Model, in.CompletedAt)
	costMicros := pricing.VendorCostMicros(rate, in.Tokens)
	credits := pricing.CreditsFromMicros(costMicros, multiplier)

	maxAttempts := settings.DeductMaxRetries()
	lockTimeout := settings.DeductLockTimeout()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, errAttempt := e.attemptDeduct(ctx, in, costMicros, multiplier, credits, lockTimeout)
		if errAttempt == nil {
			if !result.Duplicate {
				e.storeInCache(ctx, result)
			}
			return result, nil
		}
		if !errors.Is(errAttempt, errBalanceContended) && !dbutil.IsConflict(errAttempt) {
			return nil, errAttempt
		}
		lastErr = errAttempt
		log.WithError(errAttempt).Debugf("deduct: attempt %d/%d conflicted for request %s", attempt, maxAttempts, in.RequestID)
		if attempt < maxAttempts {
			if errSleep := sleepContext(ctx, time.Duration(attempt)*100*time.Millisecond); errSleep != nil {
				return nil, errSleep
			}
		}
	}
	return nil, &TransactionConflictError{Attempts: maxAttempts, Err: lastErr}
}

// attemptDeduct runs one transactional deduction attempt with a bounded wait.
func (e *Engine) attemptDeduct(ctx context.Context, in DeductInput, costMicros int64, multiplier float64, credits int64, lockTimeout time.Duration) (*DeductionResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	var result *DeductionResult
	errTx := e.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		// A concurrent duplicate may have committed between the fast-path
		// check and this transaction.
		if existing, errFind := ledger.DeductionByRequestID(txCtx, tx, in.RequestID); errFind != nil {
			return errFind
		} else if existing != nil {
			replayed, errReplay := e.replayFromRecord(txCtx, tx, existing)
			if errReplay != nil {
				return errReplay
			}
			result = replayed
			return nil
		}

		var account models.Account
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", in.AccountID).
			First(&account).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return errLock
		}

		if account.Credits < credits {
			return &InsufficientCreditsError{
				CurrentBalance: account.Credits,
				Required:       credits,
				Shortfall:      credits - account.Credits,
			}
		}

		now := time.Now().UTC()
		balanceBefore := account.Credits
		balanceAfter := balanceBefore - credits

		// Guarded update re-validates sufficiency at write time. Zero rows
		// means another writer slipped in despite the lock (SQLite has no
		// row locks); retry from a fresh read.
		resUpdate := tx.Model(&models.Account{}).
			Where("account_id = ? AND credits >= ?", in.AccountID, credits).
			Updates(map[string]any{
				"credits":               gorm.Expr("credits - ?", credits),
				"last_deduction_at":     now,
				"last_deduction_amount": credits,
			})
		if resUpdate.Error != nil {
			return resUpdate.Error
		}
		if resUpdate.RowsAffected == 0 {
			return errBalanceContended
		}

		usage := models.UsageRecord{
			RequestID:         in.RequestID,
			AccountID:         in.AccountID,
			Provider:          strings.ToLower(in.Provider),
			Model:             in.Model,
			Tier:              in.Tier,
			InputTokens:       in.Tokens.Input,
			OutputTokens:      in.Tokens.Output,
			CachedInputTokens: in.Tokens.CachedInput,
			TotalTokens:       in.Tokens.Total(),
			VendorCostMicros:  costMicros,
			MarginMultiplier:  multiplier,
			CreditsCharged:    credits,
			GrossMarginMicros: pricing.GrossMarginMicros(credits, costMicros),
			Status:            models.UsageStatusSuccess,
			StartedAt:         in.StartedAt.UTC(),
			CompletedAt:       in.CompletedAt.UTC(),
			Metadata:          datatypesJSON(in.Metadata),
			CreatedAt:         now,
		}
		if errCreate := tx.Create(&usage).Error; errCreate != nil {
			if dbutil.IsUniqueViolation(errCreate) {
				return errBalanceContended
			}
			return errCreate
		}

		record := models.DeductionRecord{
			AccountID:     in.AccountID,
			Amount:        credits,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceAfter,
			RequestID:     in.RequestID,
			Reason:        models.DeductionReasonUsage,
			Status:        models.DeductionStatusCompleted,
			CreatedAt:     now,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			if dbutil.IsUniqueViolation(errCreate) {
				return errBalanceContended
			}
			return errCreate
		}

		if errLink := tx.Model(&models.UsageRecord{}).
			Where("id = ?", usage.ID).
			Update("deduction_record_id", record.ID).Error; errLink != nil {
			return errLink
		}

		if errSummary := ledger.ApplyDeduction(txCtx, tx, &usage); errSummary != nil {
			return errSummary
		}

		result = &DeductionResult{
			DeductionRecordID: record.ID,
			RequestID:         in.RequestID,
			AccountID:         in.AccountID,
			BalanceBefore:     balanceBefore,
			BalanceAfter:      balanceAfter,
			CreditsCharged:    credits,
			VendorCostMicros:  costMicros,
			MarginMultiplier:  multiplier,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return result, nil
}

// Estimate returns a conservative preflight credit estimate for the given
// token counts. Advisory only; the authoritative charge always comes from
// actual post-call usage via Deduct.
func (e *Engine) Estimate(ctx context.Context, provider, model, tier string, tokens pricing.TokenCounts) (int64, error) {
	if e == nil || e.catalog == nil {
		return 0, errors.New("deduct: engine not initialized")
	}
	if errValidate := validateTokens(tokens); errValidate != nil {
		return 0, errValidate
	}

	now := time.Now().UTC()
	rate, errRate := e.catalog.ResolveRate(provider, model, now)
	if errRate != nil {
		return 0, errRate
	}
	multiplier := e.catalog.ResolveMultiplier(tier, provider, model, now)
	costMicros := pricing.VendorCostMicros(rate, tokens)
	return pricing.EstimateCredits(costMicros, multiplier, settings.EstimateSafetyPercent()), nil
}

// RecordFailure writes a zero-charge usage record for a failed or cancelled
// request. No balance change and no deduction record are produced.
func (e *Engine) RecordFailure(ctx context.Context, in DeductInput, status string) (*models.UsageRecord, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("deduct: engine not initialized")
	}
	if status != models.UsageStatusFailed && status != models.UsageStatusCancelled {
		return nil, &ValidationError{Field: "status", Reason: "must be failed or cancelled"}
	}
	if errValidate := validateDeductInput(&in); errValidate != nil {
		return nil, errValidate
	}

	if existing, errFind := ledger.UsageByRequestID(ctx, e.db, in.RequestID); errFind != nil {
		return nil, errFind
	} else if existing != nil {
		return existing, nil
	}

	usage := models.UsageRecord{
		RequestID:         in.RequestID,
		AccountID:         in.AccountID,
		Provider:          strings.ToLower(in.Provider),
		Model:             in.Model,
		Tier:              in.Tier,
		InputTokens:       in.Tokens.Input,
		OutputTokens:      in.Tokens.Output,
		CachedInputTokens: in.Tokens.CachedInput,
		TotalTokens:       in.Tokens.Total(),
		Status:            status,
		StartedAt:         in.StartedAt.UTC(),
		CompletedAt:       in.CompletedAt.UTC(),
		Metadata:          datatypesJSON(in.Metadata),
		CreatedAt:         time.Now().UTC(),
	}
	if errCreate := e.db.WithContext(ctx).Create(&usage).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return ledger.UsageByRequestID(ctx, e.db, in.RequestID)
		}
		return nil, errCreate
	}
	return &usage, nil
}

// History returns the account's committed deduction records within the
// given range, restartable from afterID.
func (e *Engine) History(ctx context.Context, accountID string, from, until time.Time, afterID uint64, limit int) ([]models.DeductionRecord, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("deduct: engine not initialized")
	}
	return ledger.History(ctx, e.db, accountID, from, until, afterID, limit)
}

// replayFromCache returns a cached result marked as duplicate, or nil.
func (e *Engine) replayFromCache(ctx context.Context, requestID string) *DeductionResult {
	payload := e.replay.Get(ctx, requestID)
	if payload == nil {
		return nil
	}
	var result DeductionResult
	if errUnmarshal := json.Unmarshal(payload, &result); errUnmarshal != nil {
		return nil
	}
	result.Duplicate = true
	return &result
}

// storeInCache saves a committed result for replay.
func (e *Engine) storeInCache(ctx context.Context, result *DeductionResult) {
	if e.replay == nil || result == nil {
		return
	}
	payload, errMarshal := json.Marshal(result)
	if errMarshal != nil {
		return
	}
	e.replay.Set(ctx, result.RequestID, payload)
}

// replayFromRecord rebuilds the original result from the stored ledger rows.
func (e *Engine) replayFromRecord(ctx context.Context, db *gorm.DB, record *models.DeductionRecord) (*DeductionResult, error) {
	result := &DeductionResult{
		DeductionRecordID: record.ID,
		RequestID:         record.RequestID,
		AccountID:         record.AccountID,
		BalanceBefore:     record.BalanceBefore,
		BalanceAfter:      record.BalanceAfter,
		CreditsCharged:    record.Amount,
		Duplicate:         true,
	}
	usage, errFind := ledger.UsageByRequestID(ctx, db, record.RequestID)
	if errFind != nil {
		return nil, errFind
	}
	if usage != nil {
		result.VendorCostMicros = usage.VendorCostMicros
		result.MarginMultiplier = usage.MarginMultiplier
	}
	return result, nil
}

// validateDeductInput rejects malformed usage before any persistence.
func validateDeductInput(in *DeductInput) error {
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.Model = strings.TrimSpace(in.Model)
	in.Tier = strings.TrimSpace(in.Tier)
	in.RequestID = strings.TrimSpace(in.RequestID)

	if in.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if in.Provider == "" {
		return &ValidationError{Field: "provider", Reason: "must not be empty"}
	}
	if in.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if in.RequestID == "" {
		return &ValidationError{Field: "request_id", Reason: "must not be empty"}
	}
	if errTokens := validateTokens(in.Tokens); errTokens != nil {
		return errTokens
	}
	if in.CompletedAt.IsZero() {
		return &ValidationError{Field: "completed_at", Reason: "must be set"}
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = in.CompletedAt
	}
	if in.StartedAt.After(in.CompletedAt) {
		return &ValidationError{Field: "started_at", Reason: "must not be after completed_at"}
	}
	return nil
}

func validateTokens(tokens pricing.TokenCounts) error {
	if tokens.Input < 0 {
		return &ValidationError{Field: "input_tokens", Reason: "must be non-negative"}
	}
	if tokens.Output < 0 {
		return &ValidationError{Field: "output_tokens", Reason: "must be non-negative"}
	}
	if tokens.CachedInput < 0 {
		return &ValidationError{Field: "cached_input_tokens", Reason: "must be non-negative"}
	}
	return nil
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
