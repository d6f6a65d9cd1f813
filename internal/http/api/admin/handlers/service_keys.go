package handlers

import (
	"net/http"
	"strings"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceKeyHandler manages API keys for service callers.
type ServiceKeyHandler struct {
	db *gorm.DB
}

// NewServiceKeyHandler constructs a ServiceKeyHandler.
func NewServiceKeyHandler(db *gorm.DB) *ServiceKeyHandler {
	return &ServiceKeyHandler{db: db}
}

// createKeyRequest is the wire form of a new service key.
type createKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create generates a service key. The plaintext token is returned exactly
// once; only its bcrypt hash is stored.
func (h *ServiceKeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, prefix, errGen := security.GenerateServiceKey()
	if errGen != nil {
		log.WithError(errGen).Error("service key generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key generation failed"})
		return
	}
	hash, errHash := security.HashKey(token)
	if errHash != nil {
		log.WithError(errHash).Error("service key hashing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key generation failed"})
		return
	}

	row := models.ServiceKey{
		Name:      strings.TrimSpace(req.Name),
		Prefix:    prefix,
		KeyHash:   hash,
		IsEnabled: true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("service key insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     row.ID,
		"name":   row.Name,
		"prefix": row.Prefix,
		"token":  token,
	})
}

// List returns registered service keys without their hashes.
func (h *ServiceKeyHandler) List(c *gin.Context) {
	var rows []models.ServiceKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"name":         row.Name,
			"prefix":       row.Prefix,
			"is_enabled":   row.IsEnabled,
			"last_used_at": row.LastUsedAt,
			"created_at":   row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// Disable deactivates a service key.
func (h *ServiceKeyHandler) Disable(c *gin.Context) {
	id := c.Param("id")
	res := h.db.WithContext(c.Request.Context()).
		Model(&models.ServiceKey{}).
		Where("id = ?", id).
		Update("is_enabled", false)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable key failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": true})
}
