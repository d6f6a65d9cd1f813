package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func resetSnapshot(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		StoreDBConfig(time.Time{}, map[string]json.RawMessage{})
	})
	StoreDBConfig(time.Time{}, map[string]json.RawMessage{})
}

func TestValuesFallBackToDefaults(t *testing.T) {
	resetSnapshot(t)

	if got := MarginMultiplierDefault(); got != 1.5 {
		t.Fatalf("expected default multiplier 1.5, got %v", got)
	}
	if got := EstimateSafetyPercent(); got != 10 {
		t.Fatalf("expected default safety 10, got %d", got)
	}
	if got := PricingRefreshInterval(); got != 60*time.Second {
		t.Fatalf("expected default refresh 60s, got %s", got)
	}
	if got := DeductLockTimeout(); got != 5*time.Second {
		t.Fatalf("expected default lock timeout 5s, got %s", got)
	}
	if got := DeductMaxRetries(); got != 3 {
		t.Fatalf("expected default retries 3, got %d", got)
	}
}

func TestValuesReadSnapshot(t *testing.T) {
	resetSnapshot(t)

	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		DefaultMarginMultiplierKey:  json.RawMessage(`2.25`),
		EstimateSafetyPercentKey:    json.RawMessage(`"20"`),
		DeductMaxRetriesKey:         json.RawMessage(`5`),
		DeductLockTimeoutSecondsKey: json.RawMessage(`10`),
	})

	if got := MarginMultiplierDefault(); got != 2.25 {
		t.Fatalf("expected 2.25, got %v", got)
	}
	if got := EstimateSafetyPercent(); got != 20 {
		t.Fatalf("expected 20 from quoted value, got %d", got)
	}
	if got := DeductMaxRetries(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := DeductLockTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s, got %s", got)
	}
}

func TestValuesRejectInvalid(t *testing.T) {
	resetSnapshot(t)

	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		DefaultMarginMultiplierKey: json.RawMessage(`"not a number"`),
		EstimateSafetyPercentKey:   json.RawMessage(`-3`),
		DeductMaxRetriesKey:        json.RawMessage(`0`),
	})

	if got := MarginMultiplierDefault(); got != 1.5 {
		t.Fatalf("invalid value must fall back to 1.5, got %v", got)
	}
	if got := EstimateSafetyPercent(); got != 10 {
		t.Fatalf("negative safety must fall back to 10, got %d", got)
	}
	if got := DeductMaxRetries(); got != 3 {
		t.Fatalf("non-positive retries must fall back to 3, got %d", got)
	}
}

func TestRefreshDBConfigSnapshot(t *testing.T) {
	resetSnapshot(t)

	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	row := models.Setting{Key: DeductMaxRetriesKey, Value: json.RawMessage(`7`)}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed setting: %v", errCreate)
	}

	if errRefresh := RefreshDBConfigSnapshot(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if got := DeductMaxRetries(); got != 7 {
		t.Fatalf("expected 7 after refresh, got %d", got)
	}
	if DBConfigUpdatedAt().IsZero() {
		t.Fatal("updated-at must track the stored row")
	}
}
