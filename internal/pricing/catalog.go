package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/creditrail/creditrail/internal/models"
	"github.com/creditrail/creditrail/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RateNotFoundError reports that no vendor rate covers the requested instant.
//
// Callers must treat this as a hard failure; a missing rate never defaults to
// a zero-cost charge.
type RateNotFoundError struct {
	Provider string
	Model    string
	AsOf     time.Time
}

// Error implements the error interface.
func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("pricing: no rate for %s/%s at %s", e.Provider, e.Model, e.AsOf.UTC().Format(time.RFC3339))
}

// snapshot is an immutable view of pricing and margin configuration.
type snapshot struct {
	takenAt time.Time
	rates   map[string][]models.PricingRate
	margins []models.MarginConfig
}

// Catalog resolves vendor rates and margin multipliers from immutable
// snapshots of the pricing tables.
//
// Concurrent calculations only ever observe a fully loaded snapshot; refresh
// swaps the whole view atomically rather than mutating shared state.
type Catalog struct {
	db       *gorm.DB
	snapshot atomic.Value // stores *snapshot
}

// NewCatalog constructs a Catalog backed by the given database.
func NewCatalog(db *gorm.DB) *Catalog {
	c := &Catalog{db: db}
	c.snapshot.Store(&snapshot{rates: map[string][]models.PricingRate{}})
	return c
}

// rateKey builds the snapshot lookup key for a provider/model pair.
func rateKey(provider, model string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "\x00" + strings.TrimSpace(model)
}

// Refresh reloads all enabled pricing and margin rows into a new snapshot.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New("pricing: nil catalog")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rates []models.PricingRate
	if errFind := c.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("effective_from ASC, id ASC").
		Find(&rates).Error; errFind != nil {
		return fmt.Errorf("pricing: load rates: %w", errFind)
	}

	var margins []models.MarginConfig
	if errFind := c.db.WithContext(ctx).
		Where("is_enabled = ? AND approval_status = ?", true, models.MarginApprovalApproved).
		Order("effective_from ASC, id ASC").
		Find(&margins).Error; errFind != nil {
		return fmt.Errorf("pricing: load margins: %w", errFind)
	}

	byKey := make(map[string][]models.PricingRate, len(rates))
	for _, rate := range rates {
		key := rateKey(rate.Provider, rate.Model)
		byKey[key] = append(byKey[key], rate)
	}

	c.snapshot.Store(&snapshot{
		takenAt: time.Now().UTC(),
		rates:   byKey,
		margins: margins,
	})
	return nil
}

// StartRefresher launches a background loop that refreshes the snapshot on
// the configured interval.
func (c *Catalog) StartRefresher(ctx context.Context) {
	if c == nil || c.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("pricing refresher started (interval=%s)", settings.PricingRefreshInterval())
}

func (c *Catalog) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(settings.PricingRefreshInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
		if errRefresh := c.Refresh(ctx); errRefresh != nil {
			log.WithError(errRefresh).Warn("pricing refresher: refresh failed")
		}
	}
}

// SnapshotTakenAt returns when the current snapshot was loaded.
func (c *Catalog) SnapshotTakenAt() time.Time {
	return c.load().takenAt
}

func (c *Catalog) load() *snapshot {
	if c == nil {
		return &snapshot{rates: map[string][]models.PricingRate{}}
	}
	v := c.snapshot.Load()
	snap, ok := v.(*snapshot)
	if !ok || snap == nil {
		return &snapshot{rates: map[string][]models.PricingRate{}}
	}
	return snap
}

// ResolveRate returns the unique enabled rate covering asOf for the given
// provider/model pair, or a RateNotFoundError.
func (c *Catalog) ResolveRate(provider, model string, asOf time.Time) (*models.PricingRate, error) {
	snap := c.load()
	candidates := snap.rates[rateKey(provider, model)]

	var best *models.PricingRate
	for i := range candidates {
		rate := &candidates[i]
		if !rate.CoversInstant(asOf) {
			continue
		}
		// Overlapping windows should not exist; prefer the newest row if
		// they ever do.
		if best == nil || rate.EffectiveFrom.After(best.EffectiveFrom) {
			best = rate
		}
	}
	if best == nil {
		return nil, &RateNotFoundError{
			Provider: strings.TrimSpace(provider),
			Model:    strings.TrimSpace(model),
			AsOf:     asOf,
		}
	}
	out := *best
	return &out, nil
}

// ResolveMultiplier returns the margin multiplier applicable at asOf,
// cascading from the most specific scope down to the configured default.
func (c *Catalog) ResolveMultiplier(tier, provider, model string, asOf time.Time) float64 {
	snap := c.load()
	if cfg := SelectMarginConfig(snap.margins, tier, provider, model, asOf); cfg != nil {
		return cfg.Multiplier
	}
	return settings.MarginMultiplierDefault()
}
