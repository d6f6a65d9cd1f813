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

// MarginHandler manages margin multiplier configuration.
type MarginHandler struct {
	db      *gorm.DB
	catalog *pricing.Catalog
}

// NewMarginHandler constructs a MarginHandler.
func NewMarginHandler(db *gorm.DB, catalog *pricing.Catalog) *MarginHandler {
	return &MarginHandler{db: db, catalog: catalog}
}

// createMarginRequest is the wire form of a new margin config.
type createMarginRequest struct {
	ScopeType     string     `json:"scope_type" binding:"required"`
	Tier          string     `json:"tier"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	Multiplier    float64    `json:"multiplier" binding:"required"`
	EffectiveFrom *time.Time `json:"effective_from"`
}

// Create inserts a margin config in pending state; large changes go through
// the approval gate before resolution sees them.
func (h *MarginHandler) Create(c *gin.Context) {
	var req createMarginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Multiplier <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multiplier must be positive"})
		return
	}

	scope := models.MarginScope(strings.TrimSpace(req.ScopeType))
	if errScope := validateScope(scope, req); errScope != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errScope})
		return
	}

	effectiveFrom := time.Now().UTC()
	if req.EffectiveFrom != nil && !req.EffectiveFrom.IsZero() {
		effectiveFrom = req.EffectiveFrom.UTC()
	}

	row := models.MarginConfig{
		ScopeType:      scope,
		Tier:           strings.TrimSpace(req.Tier),
		Provider:       strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:          strings.TrimSpace(req.Model),
		Multiplier:     req.Multiplier,
		EffectiveFrom:  effectiveFrom,
		ApprovalStatus: models.MarginApprovalPending,
		IsEnabled:      true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("create margin config failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create margin config failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Approve marks a pending margin config as approved and refreshes the
// pricing snapshot so resolution picks it up.
func (h *MarginHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	res := h.db.WithContext(c.Request.Context()).
		Model(&models.MarginConfig{}).
		Where("id = ? AND approval_status = ?", id, models.MarginApprovalPending).
		Update("approval_status", models.MarginApprovalApproved)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approve margin config failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending margin config not found"})
		return
	}
	if errRefresh := h.catalog.Refresh(c.Request.Context()); errRefresh != nil {
		log.WithError(errRefresh).Warn("pricing snapshot refresh failed after margin approve")
	}
	c.JSON(http.StatusOK, gin.H{"approved": true})
}

// List returns margin configs ordered by scope and recency.
func (h *MarginHandler) List(c *gin.Context) {
	var rows []models.MarginConfig
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("scope_type ASC, effective_from DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query margin configs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": rows})
}

// validateScope checks that the scope fields required by scope_type are set.
func validateScope(scope models.MarginScope, req createMarginRequest) string {
	tier := strings.TrimSpace(req.Tier)
	provider := strings.TrimSpace(req.Provider)
	model := strings.TrimSpace(req.Model)

	switch scope {
	case models.MarginScopeCombination:
		if tier == "" || provider == "" || model == "" {
			return "combination scope requires tier, provider and model"
		}
	case models.MarginScopeModel:
		if provider == "" || model == "" {
			return "model scope requires provider and model"
		}
	case models.MarginScopeProvider:
		if provider == "" {
			return "provider scope requires provider"
		}
	case models.MarginScopeTier:
		if tier == "" {
			return "tier scope requires tier"
		}
	default:
		return "unknown scope_type"
	}
	return ""
}
