package grain

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/farmstream/bchwatch/internal/models"
)

// Calculator computes a grain reward from a EUR amount using the tier system.
// Thread-safe: tiers are protected by a RWMutex so they can be hot-reloaded.
type Calculator struct {
	tiers []models.Tier
	mu    sync.RWMutex
}

// Result holds the output of a grain calculation.
type Result struct {
	Grain      int64
	TierIndex  int
	Multiplier float64
}

// NewCalculator creates a calculator pre-loaded with the given tiers.
func NewCalculator(tiers []models.Tier) *Calculator {
	slog.Info("grain calculator initialized", "tierCount", len(tiers))
	return &Calculator{tiers: tiers}
}

// ForEuro returns the grain delta, matching tier index, and multiplier for a
// EUR amount. The entire amount uses the single matching tier's multiplier.
// Formula: grain = ceil(eur * multiplier).
func (c *Calculator) ForEuro(eur float64) Result {
	c.mu.RLock()
	tiers := c.tiers
	c.mu.RUnlock()

	tierIdx, multiplier := matchTier(tiers, eur)

	grain := int64(math.Ceil(eur * multiplier))

	slog.Debug("grain calculated",
		"eur", eur,
		"tierIndex", tierIdx,
		"multiplier", multiplier,
		"grain", grain,
	)

	return Result{
		Grain:      grain,
		TierIndex:  tierIdx,
		Multiplier: multiplier,
	}
}

// Reload replaces the current tier configuration. Returns an error if the new
// tiers are invalid.
func (c *Calculator) Reload(tiers []models.Tier) error {
	if err := ValidateTiers(tiers); err != nil {
		return fmt.Errorf("reload tiers: %w", err)
	}

	c.mu.Lock()
	c.tiers = tiers
	c.mu.Unlock()

	slog.Info("grain calculator tiers reloaded", "tierCount", len(tiers))
	return nil
}

// Tiers returns a copy of the current tier configuration.
func (c *Calculator) Tiers() []models.Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// matchTier finds the tier index and multiplier for a EUR amount. Bands are
// half-open [min, max). If no tier matches (cannot happen with a valid config
// ending in an unbounded tier), returns (0, 0).
func matchTier(tiers []models.Tier, eur float64) (int, float64) {
	for i, t := range tiers {
		if t.MaxEUR == nil {
			if eur >= t.MinEUR {
				return i, t.Multiplier
			}
			continue
		}
		if eur >= t.MinEUR && eur < *t.MaxEUR {
			return i, t.Multiplier
		}
	}
	return 0, 0
}
