package handlers

import (
	"net/http"
	"strconv"

	"github.com/creditrail/creditrail/internal/deduct"
	"github.com/creditrail/creditrail/internal/ledger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AccountHandler manages account balances and rollups for administrators.
type AccountHandler struct {
	db     *gorm.DB
	engine *deduct.Engine
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(db *gorm.DB, engine *deduct.Engine) *AccountHandler {
	return &AccountHandler{db: db, engine: engine}
}

// grantRequest is the wire form of a credit grant.
type grantRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// Grant adds credits to an account.
func (h *AccountHandler) Grant(c *gin.Context) {
	accountID := c.Param("accountID")
	var req grantRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errGrant := h.engine.Grant(c.Request.Context(), accountID, req.Amount, req.Reason)
	if errGrant != nil {
		respondAdminEngineError(c, errGrant)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Balance returns the current balance for an account.
func (h *AccountHandler) Balance(c *gin.Context) {
	accountID := c.Param("accountID")
	credits, errBalance := h.engine.GetBalance(c.Request.Context(), accountID)
	if errBalance != nil {
		respondAdminEngineError(c, errBalance)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "credits": credits})
}

// Summaries returns per-day usage rollups for an account.
func (h *AccountHandler) Summaries(c *gin.Context) {
	accountID := c.Param("accountID")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil {
			limit = n
		}
	}

	rows, errList := ledger.Summaries(c.Request.Context(), h.db, accountID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query summaries failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": rows})
}
