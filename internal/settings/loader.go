package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
)

// RefreshDBConfigSnapshot reloads every runtime tunable from the settings
// table and swaps the in-memory snapshot.
//
// Called once at startup and again after every admin settings write; between
// refreshes the engine reads only the snapshot, never the table.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	updatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if row.UpdatedAt.After(updatedAt) {
			updatedAt = row.UpdatedAt
		}
	}

	StoreDBConfig(updatedAt, values)
	return nil
}
