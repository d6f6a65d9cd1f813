package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/settings"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsHandler manages the db-backed runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// updateSettingRequest is the wire form of a setting upsert.
type updateSettingRequest struct {
	Key   string          `json:"key" binding:"required"`
	Value json.RawMessage `json:"value" binding:"required"`
}

// Update upserts one setting and refreshes the in-memory snapshot so the
// change takes effect without a restart.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req updateSettingRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" || !json.Valid(req.Value) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and a valid JSON value are required"})
		return
	}

	row := models.Setting{Key: key, Value: req.Value}
	if errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error; errUpsert != nil {
		log.WithError(errUpsert).Error("setting upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "setting update failed"})
		return
	}

	if errRefresh := settings.RefreshDBConfigSnapshot(c.Request.Context(), h.db); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings snapshot refresh failed after update")
	}
	c.JSON(http.StatusOK, row)
}

// List returns all settings.
func (h *SettingsHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": rows})
}
