// Package admin registers the management API used by operators.
package admin

import (
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/deduct"
	creditrailhttp "github.com/creditrail/creditrail/internal/http"
	"github.com/creditrail/creditrail/internal/http/api/admin/handlers"
	"github.com/creditrail/creditrail/internal/pricing"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the administrative endpoints under /v0/admin,
// guarded by JWT auth. Token issuance and health are unauthenticated.
func RegisterRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, engine *deduct.Engine, catalog *pricing.Catalog) {
	auth := handlers.NewAuthHandler(cfg)
	pricingHandler := handlers.NewPricingHandler(db, catalog)
	marginHandler := handlers.NewMarginHandler(db, catalog)
	accountHandler := handlers.NewAccountHandler(db, engine)
	keyHandler := handlers.NewServiceKeyHandler(db)
	settingsHandler := handlers.NewSettingsHandler(db)

	router.GET("/health", handlers.Health(db))
	router.POST("/v0/admin/token", auth.Token)

	group := router.Group("/v0/admin")
	group.Use(creditrailhttp.AdminAuthMiddleware(cfg.Admin.Secret))
	{
		group.POST("/pricing-rates", pricingHandler.Create)
		group.GET("/pricing-rates", pricingHandler.List)
		group.POST("/pricing-rates/:id/disable", pricingHandler.Disable)

		group.POST("/margin-configs", marginHandler.Create)
		group.GET("/margin-configs", marginHandler.List)
		group.POST("/margin-configs/:id/approve", marginHandler.Approve)

		group.POST("/accounts/:accountID/grants", accountHandler.Grant)
		group.GET("/accounts/:accountID/balance", accountHandler.Balance)
		group.GET("/accounts/:accountID/summaries", accountHandler.Summaries)

		group.POST("/service-keys", keyHandler.Create)
		group.GET("/service-keys", keyHandler.List)
		group.POST("/service-keys/:id/disable", keyHandler.Disable)

		group.PUT("/settings", settingsHandler.Update)
		group.GET("/settings", settingsHandler.List)
	}
}
