package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/creditrail/creditrail/internal/deduct"
	"github.com/creditrail/creditrail/internal/pricing"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// BillingHandler exposes the metering engine to service callers.
type BillingHandler struct {
	engine *deduct.Engine
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(engine *deduct.Engine) *BillingHandler {
	return &BillingHandler{engine: engine}
}

// deductRequest is the wire form of a deduction call.
type deductRequest struct {
	AccountID         string          `json:"account_id" binding:"required"`
	Provider          string          `json:"provider" binding:"required"`
	Model             string          `json:"model" binding:"required"`
	Tier              string          `json:"tier"`
	RequestID         string          `json:"request_id" binding:"required"`
	InputTokens       int64           `json:"input_tokens"`
	OutputTokens      int64           `json:"output_tokens"`
	CachedInputTokens int64           `json:"cached_input_tokens"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at" binding:"required"`
	Metadata          json.RawMessage `json:"metadata"`
}

// Deduct applies a usage charge.
func (h *BillingHandler) Deduct(c *gin.Context) {
	var req deductRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errDeduct := h.engine.Deduct(c.Request.Context(), deduct.DeductInput{
		AccountID: req.AccountID,
		Provider:  req.Provider,
		Model:     req.Model,
		Tier:      req.Tier,
		RequestID: req.RequestID,
		Tokens: pricing.TokenCounts{
			Input:       req.InputTokens,
			Output:      req.OutputTokens,
			CachedInput: req.CachedInputTokens,
		},
		StartedAt:   req.StartedAt,
		CompletedAt: req.CompletedAt,
		Metadata:    req.Metadata,
	})
	if errDeduct != nil {
		respondEngineError(c, errDeduct)
		return
	}
	c.JSON(http.StatusOK, result)
}

// estimateRequest is the wire form of a preflight estimate.
type estimateRequest struct {
	Provider          string `json:"provider" binding:"required"`
	Model             string `json:"model" binding:"required"`
	Tier              string `json:"tier"`
	InputTokens       int64  `json:"input_tokens"`
	OutputTokens      int64  `json:"output_tokens"`
	CachedInputTokens int64  `json:"cached_input_tokens"`
}

// Estimate returns a conservative preflight credit estimate.
func (h *BillingHandler) Estimate(c *gin.Context) {
	var req estimateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	credits, errEstimate := h.engine.Estimate(c.Request.Context(), req.Provider, req.Model, req.Tier, pricing.TokenCounts{
		Input:       req.InputTokens,
		Output:      req.OutputTokens,
		CachedInput: req.CachedInputTokens,
	})
	if errEstimate != nil {
		respondEngineError(c, errEstimate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"estimated_credits": credits})
}

// Balance returns the current balance for an account.
func (h *BillingHandler) Balance(c *gin.Context) {
	accountID := c.Param("accountID")
	credits, errBalance := h.engine.GetBalance(c.Request.Context(), accountID)
	if errBalance != nil {
		respondEngineError(c, errBalance)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "credits": credits})
}

// History returns the account's deduction records, restartable via after_id.
func (h *BillingHandler) History(c *gin.Context) {
	accountID := c.Param("accountID")
	from := parseTimeParam(c.Query("from"))
	until := parseTimeParam(c.Query("until"))
	afterID := parseUintParam(c.Query("after_id"))
	limit := int(parseUintParam(c.Query("limit")))

	records, errHistory := h.engine.History(c.Request.Context(), accountID, from, until, afterID, limit)
	if errHistory != nil {
		respondEngineError(c, errHistory)
		return
	}

	nextAfterID := afterID
	if len(records) > 0 {
		nextAfterID = records[len(records)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{
		"records":       records,
		"next_after_id": nextAfterID,
	})
}

// recordFailureRequest is the wire form of a failed or cancelled call report.
type recordFailureRequest struct {
	deductRequest
	Status string `json:"status" binding:"required"`
}

// RecordFailure records a failed or cancelled vendor call for audit.
// No credits are charged.
func (h *BillingHandler) RecordFailure(c *gin.Context) {
	var req recordFailureRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	usage, errRecord := h.engine.RecordFailure(c.Request.Context(), deduct.DeductInput{
		AccountID: req.AccountID,
		Provider:  req.Provider,
		Model:     req.Model,
		Tier:      req.Tier,
		RequestID: req.RequestID,
		Tokens: pricing.TokenCounts{
			Input:       req.InputTokens,
			Output:      req.OutputTokens,
			CachedInput: req.CachedInputTokens,
		},
		StartedAt:   req.StartedAt,
		CompletedAt: req.CompletedAt,
		Metadata:    req.Metadata,
	}, req.Status)
	if errRecord != nil {
		respondEngineError(c, errRecord)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage_record_id": usage.ID, "status": usage.Status})
}

// reverseRequest is the wire form of a reversal call.
type reverseRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor" binding:"required"`
}

// Reverse undoes a prior deduction.
func (h *BillingHandler) Reverse(c *gin.Context) {
	recordID := parseUintParam(c.Param("recordID"))
	var req reverseRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errReverse := h.engine.Reverse(c.Request.Context(), recordID, req.Reason, req.Actor)
	if errReverse != nil {
		respondEngineError(c, errReverse)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondEngineError maps typed engine failures onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	var validationErr *deduct.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_error",
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
		return
	}

	var rateErr *pricing.RateNotFoundError
	if errors.As(err, &rateErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "pricing_not_found",
			"provider": rateErr.Provider,
			"model":    rateErr.Model,
		})
		return
	}

	var insufficientErr *deduct.InsufficientCreditsError
	if errors.As(err, &insufficientErr) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":           "insufficient_credits",
			"current_balance": insufficientErr.CurrentBalance,
			"required":        insufficientErr.Required,
			"shortfall":       insufficientErr.Shortfall,
		})
		return
	}

	var conflictErr *deduct.TransactionConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "transaction_conflict",
			"retryable": true,
		})
		return
	}

	var reversedErr *deduct.AlreadyReversedError
	if errors.As(err, &reversedErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":       "already_reversed",
			"reversed_at": reversedErr.ReversedAt,
		})
		return
	}

	if errors.Is(err, deduct.ErrAccountNotFound) || errors.Is(err, deduct.ErrDeductionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	log.WithError(err).Error("engine request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func parseTimeParam(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, errParse := time.Parse(time.RFC3339, raw); errParse == nil {
		return t
	}
	if t, errParse := time.Parse("2006-01-02", raw); errParse == nil {
		return t
	}
	return time.Time{}
}

func parseUintParam(raw string) uint64 {
	if raw == "" {
		return 0
	}
	n, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		return 0
	}
	return n
}
