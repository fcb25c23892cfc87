package catalog

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

// ValidateRaw checks the shape of a merged RawBanner before it is resolved.
// Cross-field rate invariants are left to gacha.Banner.Validate.
func ValidateRaw(cfg RawBanner) error {
	var errs []string

	if _, err := uuid.Parse(cfg.ID); err != nil {
		errs = append(errs, "id must be a uuid")
	}
	if len(cfg.Rates) == 0 {
		errs = append(errs, "rates are required")
	}
	for k, v := range cfg.Rates {
		if _, err := gacha.ParseRarity(k); err != nil {
			errs = append(errs, fmt.Sprintf("rates.%s: unknown rarity", k))
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("rates.%s must be in [0,1]", k))
		}
	}

	// pity
	if p := cfg.Pity; p != nil {
		if p.Hard != nil && *p.Hard <= 1 {
			errs = append(errs, "pity.hard must be >= 2")
		}
		if p.SoftStart != nil && *p.SoftStart <= 0 {
			errs = append(errs, "pity.soft_start must be >= 1")
		}
		if p.Hard != nil && p.SoftStart != nil && *p.SoftStart >= *p.Hard {
			errs = append(errs, "pity.soft_start must satisfy soft_start < hard")
		}
		if p.SoftIncrease != nil && (*p.SoftIncrease < 0 || *p.SoftIncrease > 1) {
			errs = append(errs, "pity.soft_increase must be in [0,1]")
		}
	}

	if len(cfg.Pool) == 0 {
		errs = append(errs, "pool must list at least one item")
	}
	if cfg.FeaturedRate != nil && (*cfg.FeaturedRate < 0 || *cfg.FeaturedRate > 1) {
		errs = append(errs, "featured_rate must be in [0,1]")
	}

	// tokens (optional)
	if t := cfg.Tokens; t != nil {
		if t.PerDraw != nil && *t.PerDraw < 0 {
			errs = append(errs, "tokens.per_draw must be >= 0")
		}
		if t.MultiPullSize != nil && *t.MultiPullSize < 0 {
			errs = append(errs, "tokens.multi_pull_size must be >= 0 (0 means 10)")
		}
		if t.MultiPullDiscount != nil && (*t.MultiPullDiscount < 0 || *t.MultiPullDiscount >= 1) {
			errs = append(errs, "tokens.multi_pull_discount must be in [0,1)")
		}
	}

	if cfg.StartAt != nil && cfg.EndAt != nil && !cfg.EndAt.After(*cfg.StartAt) {
		errs = append(errs, "end_at must be after start_at")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
