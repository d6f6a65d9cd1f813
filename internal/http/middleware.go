package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/logging"
	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the auth middlewares.
const (
	// ContextServiceKeyName carries the authenticated service key name.
	ContextServiceKeyName = "serviceKeyName"
	// ContextAdminActor carries the authenticated admin actor.
	ContextAdminActor = "adminActor"
)

// RequestLogMiddleware logs each request with its ID, status and latency.
func RequestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"request_id": logging.GinRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	}
}

// ServiceKeyAuthMiddleware authenticates service callers by API key.
func ServiceKeyAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		prefix := security.KeyPrefix(token)
		if prefix == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		var key models.ServiceKey
		errFind := db.WithContext(c.Request.Context()).
			Where("prefix = ? AND is_enabled = ?", prefix, true).
			Take(&key).Error
		if errFind != nil {
			if !errors.Is(errFind, gorm.ErrRecordNotFound) {
				log.WithError(errFind).Error("service key lookup failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		if !security.VerifyKey(key.KeyHash, token) {
			log.Warnf("service key mismatch for prefix %s", security.MaskKey(token))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		now := time.Now().UTC()
		_ = db.WithContext(c.Request.Context()).
			Model(&models.ServiceKey{}).
			Where("id = ?", key.ID).
			Update("last_used_at", now).Error

		c.Set(ContextServiceKeyName, key.Name)
		c.Next()
	}
}

// AdminAuthMiddleware authenticates administrative callers by JWT.
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(secret) == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Admin access not configured"})
			return
		}
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing admin token"})
			return
		}
		claims, errParse := security.ParseAdminToken(secret, token)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin token"})
			return
		}
		c.Set(ContextAdminActor, claims.Actor)
		c.Next()
	}
}

// extractBearerToken pulls a token from Authorization or X-Api-Key.
func extractBearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return auth
	}
	return strings.TrimSpace(c.GetHeader("X-Api-Key"))
}
