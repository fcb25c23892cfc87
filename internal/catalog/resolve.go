// resolve.go
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

// Resolve validates a merged RawBanner and converts it to an engine banner.
// Unset pity fields fall back to gacha.DefaultPolicy.
func Resolve(raw RawBanner) (*gacha.Banner, error) {
	if err := ValidateRaw(raw); err != nil {
		return nil, err
	}
	rates := make(map[gacha.Rarity]float64, len(raw.Rates))
	for k, v := range raw.Rates {
		r, err := gacha.ParseRarity(k)
		if err != nil {
			return nil, err
		}
		rates[r] = v
	}
	table, err := gacha.RatesFromMap(rates)
	if err != nil {
		return nil, err
	}

	policy := gacha.DefaultPolicy
	if p := raw.Pity; p != nil {
		if p.SoftStart != nil {
			policy.SoftPityStart = *p.SoftStart
		}
		if p.Hard != nil {
			policy.HardPity = *p.Hard
		}
		if p.SoftIncrease != nil {
			policy.SoftPityRateIncrease = *p.SoftIncrease
		}
		if p.GuaranteeAfterLoss != nil {
			policy.GuaranteedFeaturedAfterLoss = *p.GuaranteeAfterLoss
		}
	}

	b := &gacha.Banner{
		ID:              raw.ID,
		Name:            raw.Name,
		Type:            raw.Type,
		Rates:           table,
		Policy:          policy,
		FeaturedItemIDs: slices.Clone(raw.FeaturedItems),
		PoolItemIDs:     slices.Clone(raw.Pool),
		FeaturedRate:    0.5,
	}
	if raw.FeaturedRate != nil {
		b.FeaturedRate = *raw.FeaturedRate
	}
	if t := raw.Tokens; t != nil {
		if t.PerDraw != nil {
			b.PullCost = *t.PerDraw
		}
		if t.MultiPullSize != nil {
			b.MultiPullSize = *t.MultiPullSize
		}
		if t.MultiPullDiscount != nil {
			b.MultiPullDiscount = *t.MultiPullDiscount
		}
	}
	if raw.StartAt != nil {
		b.StartAt = raw.StartAt.UTC()
	}
	if raw.EndAt != nil {
		b.EndAt = raw.EndAt.UTC()
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func resolveItems(raw []RawItem) ([]gacha.Item, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]gacha.Item, 0, len(raw))
	var problems []string
	for i, it := range raw {
		if it.ID == "" {
			problems = append(problems, fmt.Sprintf("items[%d].id is required", i))
			continue
		}
		if seen[it.ID] {
			problems = append(problems, fmt.Sprintf("items[%d]: duplicate id %q", i, it.ID))
			continue
		}
		seen[it.ID] = true
		r, err := gacha.ParseRarity(it.Rarity)
		if err != nil {
			problems = append(problems, fmt.Sprintf("items[%d]: %v", i, err))
			continue
		}
		out = append(out, gacha.Item{ID: it.ID, Name: it.Name, Rarity: r})
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("items validation failed: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// checkReferences makes sure every pool entry names a catalog item.
func checkReferences(c *Catalog) error {
	known := make(map[string]bool, len(c.Items))
	for _, it := range c.Items {
		known[it.ID] = true
	}
	var problems []string
	for _, b := range c.Banners {
		for _, id := range b.PoolItemIDs {
			if !known[id] {
				problems = append(problems, fmt.Sprintf("banner %s: unknown item %q", b.ID, id))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("catalog references: %s", strings.Join(problems, "; "))
	}
	return nil
}
