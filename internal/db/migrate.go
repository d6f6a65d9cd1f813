package db

import (
	"fmt"

	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all engine tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.PricingRate{},
		&models.MarginConfig{},
		&models.Account{},
		&models.UsageRecord{},
		&models.DeductionRecord{},
		&models.DailySummary{},
		&models.ServiceKey{},
		&models.Setting{},
	)
}
