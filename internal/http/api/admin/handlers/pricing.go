package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/pricing"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PricingHandler manages vendor pricing rates.
type PricingHandler struct {
	db      *gorm.DB
	catalog *pricing.Catalog
}

// NewPricingHandler constructs a PricingHandler.
func NewPricingHandler(db *gorm.DB, catalog *pricing.Catalog) *PricingHandler {
	return &PricingHandler{db: db, catalog: catalog}
}

// createRateRequest is the wire form of a new pricing rate.
type createRateRequest struct {
	Provider              string     `json:"provider" binding:"required"`
	Model                 string     `json:"model" binding:"required"`
	InputPricePer1K       float64    `json:"input_price_per_1k"`
	OutputPricePer1K      float64    `json:"output_price_per_1k"`
	CachedInputPricePer1K *float64   `json:"cached_input_price_per_1k"`
	EffectiveFrom         *time.Time `json:"effective_from"`
}

// Create inserts a new rate and closes the currently open row for the same
// provider/model pair in the same transaction, so at most one row covers any
// instant.
func (h *PricingHandler) Create(c *gin.Context) {
	var req createRateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.InputPricePer1K < 0 || req.OutputPricePer1K < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prices must be non-negative"})
		return
	}

	effectiveFrom := time.Now().UTC()
	if req.EffectiveFrom != nil && !req.EffectiveFrom.IsZero() {
		effectiveFrom = req.EffectiveFrom.UTC()
	}

	row := models.PricingRate{
		Provider:              strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:                 strings.TrimSpace(req.Model),
		InputPricePer1K:       req.InputPricePer1K,
		OutputPricePer1K:      req.OutputPricePer1K,
		CachedInputPricePer1K: req.CachedInputPricePer1K,
		EffectiveFrom:         effectiveFrom,
		IsEnabled:             true,
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errClose := tx.Model(&models.PricingRate{}).
			Where("provider = ? AND model = ? AND effective_until IS NULL AND is_enabled = ?", row.Provider, row.Model, true).
			Update("effective_until", effectiveFrom).Error; errClose != nil {
			return errClose
		}
		return tx.Create(&row).Error
	})
	if errTx != nil {
		log.WithError(errTx).Error("create pricing rate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create rate failed"})
		return
	}

	if errRefresh := h.catalog.Refresh(c.Request.Context()); errRefresh != nil {
		log.WithError(errRefresh).Warn("pricing snapshot refresh failed after rate create")
	}
	c.JSON(http.StatusOK, row)
}

// List returns pricing rates, optionally filtered by provider and model.
func (h *PricingHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.PricingRate{})
	if provider := strings.ToLower(strings.TrimSpace(c.Query("provider"))); provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if model := strings.TrimSpace(c.Query("model")); model != "" {
		q = q.Where("model = ?", model)
	}

	var rows []models.PricingRate
	if errFind := q.Order("provider ASC, model ASC, effective_from DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query rates failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rows})
}

// Disable deactivates a rate row. Rows are never deleted.
func (h *PricingHandler) Disable(c *gin.Context) {
	id := c.Param("id")
	res := h.db.WithContext(c.Request.Context()).
		Model(&models.PricingRate{}).
		Where("id = ?", id).
		Update("is_enabled", false)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable rate failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "rate not found"})
		return
	}
	if errRefresh := h.catalog.Refresh(c.Request.Context()); errRefresh != nil {
		log.WithError(errRefresh).Warn("pricing snapshot refresh failed after rate disable")
	}
	c.JSON(http.StatusOK, gin.H{"disabled": true})
}
