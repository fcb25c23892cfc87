package gacha

import (
	"errors"
	"fmt"
)

var ErrSoftPityConfig = errors.New("invalid soft pity config")

// PityPolicy defines the ramp before hard pity.
// Example: SoftPityStart=74, HardPity=90, SoftPityRateIncrease=0.06 -> from pity 74 the top
// rate grows by 6 points per pull, and at pity 89 the next pull is forced.
type PityPolicy struct {
	SoftPityStart               int     `json:"softPityStart" yaml:"soft_pity_start"`
	HardPity                    int     `json:"hardPity" yaml:"hard_pity"`
	SoftPityRateIncrease        float64 `json:"softPityRateIncrease" yaml:"soft_pity_rate_increase"`
	GuaranteedFeaturedAfterLoss bool    `json:"guaranteedFeaturedAfterLoss" yaml:"guaranteed_featured_after_loss"`
}

// DefaultPolicy mirrors the common 74/90 character banner.
var DefaultPolicy = PityPolicy{
	SoftPityStart:               74,
	HardPity:                    90,
	SoftPityRateIncrease:        0.06,
	GuaranteedFeaturedAfterLoss: true,
}

func (p PityPolicy) Validate() error {
	if p.SoftPityStart <= 0 || p.SoftPityStart >= p.HardPity {
		return fmt.Errorf("%w: need 0 < soft_pity_start(%d) < hard_pity(%d)", ErrSoftPityConfig, p.SoftPityStart, p.HardPity)
	}
	if err := validateProb(p.SoftPityRateIncrease); err != nil {
		return fmt.Errorf("%w: soft_pity_rate_increase %v", ErrSoftPityConfig, p.SoftPityRateIncrease)
	}
	return nil
}

// IsHardPity reports whether the pull made at this pity count is forced.
// The guarantee fires at HardPity-1 pulls since the last top-two hit, i.e. on the
// HardPity-th pull itself; keep this boundary, economies are tuned against it.
func (p PityPolicy) IsHardPity(pity int) bool {
	return pity >= p.HardPity-1
}

// Adjust computes the table used for the next pull at the given pity count:
//   - hard pity: top = 1, everything else 0.
//   - soft pity: top grows by k*increase (k = pulls into the ramp, >= 1), capped at 1; the
//     increase is taken from the other tiers in proportion to their share of the non-top mass.
//   - otherwise the base table.
//
// The result is renormalized when its sum drifts more than RuntimeTolerance from 1.
func Adjust(base RarityRates, policy PityPolicy, pity int) RarityRates {
	top := Top()
	if policy.IsHardPity(pity) {
		var out RarityRates
		out[top] = 1
		return out
	}
	if pity < policy.SoftPityStart {
		return base
	}

	k := pity - policy.SoftPityStart + 1
	newTop := base[top] + float64(k)*policy.SoftPityRateIncrease
	if newTop > 1 {
		newTop = 1
	}
	delta := newTop - base[top]
	nonTop := base.Sum() - base[top]

	out := base
	out[top] = newTop
	for i := range out {
		if Rarity(i) == top {
			continue
		}
		if nonTop <= 0 {
			out[i] = 0
			continue
		}
		v := base[i] * (nonTop - delta) / nonTop
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out.renormalize()
}
