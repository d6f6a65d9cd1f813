package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/db"
	"github.com/creditrail/creditrail/internal/models"
	"gorm.io/gorm"
)

func newCatalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestCatalogResolveRate(t *testing.T) {
	conn := newCatalogTestDB(t)
	ctx := context.Background()

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	old := models.PricingRate{
		Provider:         "openai",
		Model:            "gpt-4o",
		InputPricePer1K:  0.003,
		OutputPricePer1K: 0.006,
		EffectiveFrom:    jan,
		EffectiveUntil:   &mar,
		IsEnabled:        true,
	}
	current := models.PricingRate{
		Provider:         "openai",
		Model:            "gpt-4o",
		InputPricePer1K:  0.002,
		OutputPricePer1K: 0.004,
		EffectiveFrom:    mar,
		IsEnabled:        true,
	}
	if errCreate := conn.Create(&old).Error; errCreate != nil {
		t.Fatalf("seed old rate: %v", errCreate)
	}
	if errCreate := conn.Create(&current).Error; errCreate != nil {
		t.Fatalf("seed current rate: %v", errCreate)
	}

	catalog := NewCatalog(conn)
	if errRefresh := catalog.Refresh(ctx); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	// Inside the superseded window the old price applies.
	rate, errResolve := catalog.ResolveRate("openai", "gpt-4o", jan.Add(24*time.Hour))
	if errResolve != nil {
		t.Fatalf("resolve in old window: %v", errResolve)
	}
	if rate.InputPricePer1K != 0.003 {
		t.Fatalf("expected old rate, got input price %v", rate.InputPricePer1K)
	}

	// The boundary instant belongs to the new row ([from, until)).
	rate, errResolve = catalog.ResolveRate("openai", "gpt-4o", mar)
	if errResolve != nil {
		t.Fatalf("resolve at boundary: %v", errResolve)
	}
	if rate.InputPricePer1K != 0.002 {
		t.Fatalf("expected new rate at boundary, got input price %v", rate.InputPricePer1K)
	}

	// Provider matching is case-insensitive.
	if _, errResolve = catalog.ResolveRate("OpenAI", "gpt-4o", mar); errResolve != nil {
		t.Fatalf("resolve with mixed-case provider: %v", errResolve)
	}

	// Before any window there is no rate.
	_, errResolve = catalog.ResolveRate("openai", "gpt-4o", jan.Add(-time.Hour))
	var notFound *RateNotFoundError
	if !errors.As(errResolve, &notFound) {
		t.Fatalf("expected RateNotFoundError, got %v", errResolve)
	}

	// Unknown models never resolve.
	_, errResolve = catalog.ResolveRate("openai", "unknown-model", mar)
	if !errors.As(errResolve, &notFound) {
		t.Fatalf("expected RateNotFoundError for unknown model, got %v", errResolve)
	}
	if notFound.Model != "unknown-model" {
		t.Fatalf("error should carry the model, got %q", notFound.Model)
	}
}

func TestCatalogDisabledRatesExcluded(t *testing.T) {
	conn := newCatalogTestDB(t)
	ctx := context.Background()

	rate := models.PricingRate{
		Provider:         "openai",
		Model:            "gpt-4o",
		InputPricePer1K:  0.003,
		OutputPricePer1K: 0.006,
		EffectiveFrom:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		IsEnabled:        false,
	}
	if errCreate := conn.Create(&rate).Error; errCreate != nil {
		t.Fatalf("seed rate: %v", errCreate)
	}

	catalog := NewCatalog(conn)
	if errRefresh := catalog.Refresh(ctx); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	_, errResolve := catalog.ResolveRate("openai", "gpt-4o", time.Now().UTC())
	var notFound *RateNotFoundError
	if !errors.As(errResolve, &notFound) {
		t.Fatalf("disabled rate should not resolve, got %v", errResolve)
	}
}

func TestCatalogResolveMultiplier(t *testing.T) {
	conn := newCatalogTestDB(t)
	ctx := context.Background()

	cfg := models.MarginConfig{
		ScopeType:      models.MarginScopeProvider,
		Provider:       "openai",
		Multiplier:     2.0,
		EffectiveFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ApprovalStatus: models.MarginApprovalApproved,
		IsEnabled:      true,
	}
	pending := models.MarginConfig{
		ScopeType:      models.MarginScopeProvider,
		Provider:       "anthropic",
		Multiplier:     3.0,
		EffectiveFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ApprovalStatus: models.MarginApprovalPending,
		IsEnabled:      true,
	}
	if errCreate := conn.Create(&cfg).Error; errCreate != nil {
		t.Fatalf("seed margin: %v", errCreate)
	}
	if errCreate := conn.Create(&pending).Error; errCreate != nil {
		t.Fatalf("seed pending margin: %v", errCreate)
	}

	catalog := NewCatalog(conn)
	if errRefresh := catalog.Refresh(ctx); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	now := time.Now().UTC()
	if got := catalog.ResolveMultiplier("", "openai", "gpt-4o", now); got != 2.0 {
		t.Fatalf("expected provider multiplier 2.0, got %v", got)
	}
	// Pending configs never enter the snapshot; the default applies.
	if got := catalog.ResolveMultiplier("", "anthropic", "claude", now); got != 1.5 {
		t.Fatalf("expected default multiplier 1.5, got %v", got)
	}
}
