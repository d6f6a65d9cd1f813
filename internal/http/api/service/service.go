// Package service registers the metering API consumed by the inference
// gateway and other internal services.
package service

import (
	"github.com/creditrail/creditrail/internal/deduct"
	creditrailhttp "github.com/creditrail/creditrail/internal/http"
	"github.com/creditrail/creditrail/internal/http/api/service/handlers"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the service-facing billing endpoints under /v1,
// guarded by service key authentication.
func RegisterRoutes(router *gin.Engine, db *gorm.DB, engine *deduct.Engine) {
	billing := handlers.NewBillingHandler(engine)

	v1 := router.Group("/v1")
	v1.Use(creditrailhttp.ServiceKeyAuthMiddleware(db))
	{
		v1.POST("/deduct", billing.Deduct)
		v1.POST("/estimate", billing.Estimate)
		v1.POST("/usage/failures", billing.RecordFailure)
		v1.GET("/accounts/:accountID/balance", billing.Balance)
		v1.GET("/accounts/:accountID/history", billing.History)
		v1.POST("/deductions/:recordID/reverse", billing.Reverse)
	}
}
