package grain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/models"
)

// defaultTiers is the 3-tier configuration written when tiers.json is missing.
// The boundaries and multipliers match the reward policy the site advertises.
var defaultTiers = []models.Tier{
	{MinEUR: 0, MaxEUR: ptrFloat(20), Multiplier: 4.0},
	{MinEUR: 20, MaxEUR: ptrFloat(50), Multiplier: 5.0},
	{MinEUR: 50, MaxEUR: nil, Multiplier: 6.0},
}

// ptrFloat returns a pointer to f.
func ptrFloat(f float64) *float64 {
	return &f
}

// DefaultTiers returns a copy of the built-in tier configuration.
func DefaultTiers() []models.Tier {
	out := make([]models.Tier, len(defaultTiers))
	copy(out, defaultTiers)
	return out
}

// LoadTiers reads tiers from a JSON file, validates them, and returns the slice.
func LoadTiers(path string) ([]models.Tier, error) {
	slog.Debug("loading tiers configuration", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file %q: %w", path, err)
	}

	var tiers []models.Tier
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("parse tiers JSON: %w", err)
	}

	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}

	slog.Info("tiers configuration loaded",
		"path", path,
		"tierCount", len(tiers),
	)

	return tiers, nil
}

// ValidateTiers checks that a tier slice satisfies all invariants:
//   - at least MinTierCount tiers
//   - sorted by min_eur ascending
//   - no gaps between consecutive tiers (each min_eur == prev max_eur)
//   - all min_eur >= 0, all multiplier >= 0
//   - last tier must have max_eur == nil (unbounded)
//   - non-last tiers must have max_eur != nil and max_eur > min_eur
func ValidateTiers(tiers []models.Tier) error {
	if len(tiers) < config.MinTierCount {
		return fmt.Errorf("tiers validation: need at least %d tiers, got %d", config.MinTierCount, len(tiers))
	}

	if !sort.SliceIsSorted(tiers, func(i, j int) bool {
		return tiers[i].MinEUR < tiers[j].MinEUR
	}) {
		return fmt.Errorf("tiers validation: tiers must be sorted by min_eur ascending")
	}

	for i, t := range tiers {
		if t.MinEUR < 0 {
			return fmt.Errorf("tiers validation: tier %d has negative min_eur %.2f", i, t.MinEUR)
		}
		if t.Multiplier < 0 {
			return fmt.Errorf("tiers validation: tier %d has negative multiplier %.2f", i, t.Multiplier)
		}

		isLast := i == len(tiers)-1

		if isLast {
			if t.MaxEUR != nil {
				return fmt.Errorf("tiers validation: last tier (index %d) must have max_eur null (unbounded)", i)
			}
		} else {
			if t.MaxEUR == nil {
				return fmt.Errorf("tiers validation: non-last tier (index %d) must have max_eur set", i)
			}
			if *t.MaxEUR <= t.MinEUR {
				return fmt.Errorf("tiers validation: tier %d has max_eur (%.2f) <= min_eur (%.2f)", i, *t.MaxEUR, t.MinEUR)
			}
		}

		// Check continuity: each tier's min_eur must equal previous tier's max_eur.
		if i > 0 {
			prev := tiers[i-1]
			if prev.MaxEUR == nil {
				return fmt.Errorf("tiers validation: tier %d follows an unbounded tier", i)
			}
			if t.MinEUR != *prev.MaxEUR {
				return fmt.Errorf("tiers validation: gap between tier %d (max_eur %.2f) and tier %d (min_eur %.2f)", i-1, *prev.MaxEUR, i, t.MinEUR)
			}
		}
	}

	return nil
}

// CreateDefaultTiers writes the default tier configuration to the given path.
func CreateDefaultTiers(path string) error {
	slog.Info("creating default tiers configuration", "path", path)

	data, err := json.MarshalIndent(defaultTiers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default tiers: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write default tiers to %q: %w", path, err)
	}

	slog.Info("default tiers configuration created",
		"path", path,
		"tierCount", len(defaultTiers),
	)

	return nil
}

// LoadOrCreateTiers tries to load tiers from path. If the file does not exist,
// it creates the default configuration first, then loads it.
func LoadOrCreateTiers(path string) ([]models.Tier, error) {
	tiers, err := LoadTiers(path)
	if err == nil {
		return tiers, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		// File exists but is invalid.
		return nil, err
	}

	// File not found: create defaults.
	if err := CreateDefaultTiers(path); err != nil {
		return nil, err
	}

	return LoadTiers(path)
}
