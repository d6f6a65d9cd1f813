package models

import "time"

// ServiceKey authenticates a service caller of the metering API.
//
// Only the bcrypt hash of the key is stored; Prefix keeps the first
// characters for lookup and display.
type ServiceKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name    string `gorm:"type:varchar(255);not null"`            // Display name.
	Prefix  string `gorm:"type:varchar(16);not null;uniqueIndex"` // Key prefix used for lookup.
	KeyHash string `gorm:"type:varchar(255);not null"`            // bcrypt hash of the full key.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the key is accepted.

	LastUsedAt *time.Time // Time of the most recent authenticated call.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
