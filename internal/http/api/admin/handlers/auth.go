package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/deduct"
	"github.com/creditrail/creditrail/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AuthHandler exchanges the shared admin secret for a short-lived JWT.
type AuthHandler struct {
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// tokenRequest is the wire form of an admin login.
type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
	Actor  string `json:"actor"`
}

// Token issues an admin JWT when the presented secret matches.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !secretMatches(h.cfg.Admin.Secret, req.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "admin"
	}
	token, errSign := security.GenerateAdminToken(h.cfg.Admin.Secret, actor, h.cfg.Admin.TokenTTL())
	if errSign != nil {
		log.WithError(errSign).Error("admin token signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.cfg.Admin.TokenTTL().Seconds()),
	})
}

// secretMatches compares the presented admin secret in constant time.
func secretMatches(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// respondAdminEngineError maps engine failures from admin paths onto HTTP
// statuses. Admin calls hit a subset of the engine surface, so the mapping
// is smaller than the service one.
func respondAdminEngineError(c *gin.Context, err error) {
	var validationErr *deduct.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_error",
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
		return
	}
	if errors.Is(err, deduct.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	log.WithError(err).Error("admin engine request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
