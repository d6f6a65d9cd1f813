package pricing

import (
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/models"
)

// Scope priorities for margin resolution. Higher wins.
const (
	priorityTier        = 1
	priorityProvider    = 2
	priorityModel       = 3
	priorityCombination = 4
)

// SelectMarginConfig picks the most specific eligible margin config for a
// request at asOf:
// 1) combination (tier + provider + model)
// 2) model (provider + model, any tier)
// 3) provider (any model/tier)
// 4) tier (any provider/model)
// Ties within a scope resolve to the most recent EffectiveFrom, then the
// highest ID. Returns nil when nothing matches.
func SelectMarginConfig(configs []models.MarginConfig, tier, provider, model string, asOf time.Time) *models.MarginConfig {
	tier = strings.TrimSpace(tier)
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)

	bestPriority := 0
	bestEffectiveFrom := time.Time{}
	var best *models.MarginConfig

	consider := func(c *models.MarginConfig, priority int) {
		if c == nil {
			return
		}
		if priority > bestPriority {
			bestPriority = priority
			bestEffectiveFrom = c.EffectiveFrom
			best = c
			return
		}
		if priority < bestPriority || best == nil {
			return
		}
		if c.EffectiveFrom.After(bestEffectiveFrom) {
			bestEffectiveFrom = c.EffectiveFrom
			best = c
			return
		}
		if c.EffectiveFrom.Equal(bestEffectiveFrom) && c.ID > best.ID {
			best = c
		}
	}

	for i := range configs {
		c := &configs[i]
		if !c.Eligible(asOf) {
			continue
		}

		cTier := strings.TrimSpace(c.Tier)
		cProvider := strings.ToLower(strings.TrimSpace(c.Provider))
		cModel := strings.TrimSpace(c.Model)

		switch c.ScopeType {
		case models.MarginScopeCombination:
			if cTier == tier && cProvider == provider && cModel == model {
				consider(c, priorityCombination)
			}
		case models.MarginScopeModel:
			if cProvider == provider && cModel == model {
				consider(c, priorityModel)
			}
		case models.MarginScopeProvider:
			if cProvider == provider {
				consider(c, priorityProvider)
			}
		case models.MarginScopeTier:
			if cTier == tier {
				consider(c, priorityTier)
			}
		}
	}

	return best
}
