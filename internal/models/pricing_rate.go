package models

import "time"

// PricingRate stores a vendor price row for a provider/model pair.
//
// Rows are time-effective and never mutated: a price change closes the open
// row (sets EffectiveUntil) and inserts a new one. At most one enabled row
// covers any instant for a given provider/model pair.
type PricingRate struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider string `gorm:"type:varchar(255);not null;index:idx_pricing_rates_scope"` // Provider name, lowercase.
	Model    string `gorm:"type:varchar(255);not null;index:idx_pricing_rates_scope"` // Model name.

	InputPricePer1K       float64  `gorm:"type:decimal(20,10);not null"` // USD per 1K input tokens.
	OutputPricePer1K      float64  `gorm:"type:decimal(20,10);not null"` // USD per 1K output tokens.
	CachedInputPricePer1K *float64 `gorm:"type:decimal(20,10)"`          // USD per 1K cached input tokens, if priced.

	EffectiveFrom  time.Time  `gorm:"not null;index"` // Start of validity window.
	EffectiveUntil *time.Time `gorm:"index"`          // End of validity window, open when nil.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the row is eligible for resolution.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// CoversInstant reports whether the rate's validity window contains asOf.
func (r *PricingRate) CoversInstant(asOf time.Time) bool {
	if r == nil {
		return false
	}
	if asOf.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil != nil && !asOf.Before(*r.EffectiveUntil) {
		return false
	}
	return true
}
