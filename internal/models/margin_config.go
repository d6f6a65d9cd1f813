package models

import "time"

// MarginScope identifies the specificity of a margin config row.
type MarginScope string

// Margin scope constants, from most to least specific.
const (
	// MarginScopeCombination matches tier + provider + model.
	MarginScopeCombination MarginScope = "combination"
	// MarginScopeModel matches provider + model, any tier.
	MarginScopeModel MarginScope = "model"
	// MarginScopeProvider matches provider, any model/tier.
	MarginScopeProvider MarginScope = "provider"
	// MarginScopeTier matches tier, any provider/model.
	MarginScopeTier MarginScope = "tier"
)

// Margin approval status values.
const (
	// MarginApprovalPending marks a config awaiting approval.
	MarginApprovalPending = "pending"
	// MarginApprovalApproved marks a config eligible for resolution.
	MarginApprovalApproved = "approved"
	// MarginApprovalRejected marks a config that was turned down.
	MarginApprovalRejected = "rejected"
)

// MarginConfig stores a margin multiplier at one of four scopes.
//
// Multiple configs may match a request at once; resolution picks the most
// specific scope, breaking ties by the most recent EffectiveFrom.
type MarginConfig struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ScopeType MarginScope `gorm:"type:varchar(32);not null;index"` // Scope specificity.
	Tier      string      `gorm:"type:varchar(255);index"`         // Tier filter, when scoped.
	Provider  string      `gorm:"type:varchar(255);index"`         // Provider filter, when scoped.
	Model     string      `gorm:"type:varchar(255);index"`         // Model filter, when scoped.

	Multiplier float64 `gorm:"type:decimal(20,10);not null"` // Margin multiplier, > 0.

	EffectiveFrom  time.Time  `gorm:"not null;index"` // Start of validity window.
	EffectiveUntil *time.Time `gorm:"index"`          // End of validity window, open when nil.

	ApprovalStatus string `gorm:"type:varchar(32);not null;default:'pending'"` // Approval gate status.
	IsEnabled      bool   `gorm:"not null;default:true"`                       // Whether the row is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Eligible reports whether the config may participate in resolution at asOf.
func (m *MarginConfig) Eligible(asOf time.Time) bool {
	if m == nil {
		return false
	}
	if !m.IsEnabled || m.ApprovalStatus != MarginApprovalApproved || m.Multiplier <= 0 {
		return false
	}
	if asOf.Before(m.EffectiveFrom) {
		return false
	}
	if m.EffectiveUntil != nil && !asOf.Before(*m.EffectiveUntil) {
		return false
	}
	return true
}
