package gacha

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrBannerConfig = errors.New("invalid banner config")
	ErrEmptyPool    = errors.New("banner item pool is empty")
)

// DefaultMultiPullSize is the batch size that earns the multi-pull discount.
const DefaultMultiPullSize = 10

// Item is a concrete reward.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rarity Rarity `json:"rarity"`
}

// Banner is a time-boxed loot pool. The pull engine treats it as read-only.
type Banner struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Type              string      `json:"type"` // groups banners that may share pity
	Rates             RarityRates `json:"rates"`
	Policy            PityPolicy  `json:"policy"`
	FeaturedItemIDs   []string    `json:"featuredItemIds"`
	PoolItemIDs       []string    `json:"poolItemIds"`
	FeaturedRate      float64     `json:"featuredRate"` // chance a top-two pull is featured
	PullCost          int64       `json:"pullCost"`
	MultiPullSize     int         `json:"multiPullSize"`
	MultiPullDiscount float64     `json:"multiPullDiscount"` // fraction off, in [0,1)
	StartAt           time.Time   `json:"startAt"`
	EndAt             time.Time   `json:"endAt,omitzero"` // zero means open-ended
}

// Active reports whether now is inside [StartAt, EndAt).
func (b *Banner) Active(now time.Time) bool {
	if now.Before(b.StartAt) {
		return false
	}
	return b.EndAt.IsZero() || now.Before(b.EndAt)
}

// BatchSize returns the multi-pull size, defaulting to DefaultMultiPullSize.
func (b *Banner) BatchSize() int {
	if b.MultiPullSize <= 0 {
		return DefaultMultiPullSize
	}
	return b.MultiPullSize
}

// Validate checks authoring invariants. Rate and policy faults wrap ErrRateTable,
// an empty pool wraps ErrEmptyPool, anything else ErrBannerConfig.
func (b *Banner) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: id is required", ErrBannerConfig)
	}
	if err := b.Rates.Validate(); err != nil {
		return err
	}
	if err := b.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrRateTable, err)
	}
	if err := validateProb(b.FeaturedRate); err != nil {
		return fmt.Errorf("%w: featured rate %v", ErrRateTable, b.FeaturedRate)
	}
	if len(b.PoolItemIDs) == 0 {
		return ErrEmptyPool
	}
	for _, id := range b.FeaturedItemIDs {
		if !slices.Contains(b.PoolItemIDs, id) {
			return fmt.Errorf("%w: featured item %q is not in the pool", ErrBannerConfig, id)
		}
	}
	if b.PullCost < 0 {
		return fmt.Errorf("%w: pull cost must be >= 0", ErrBannerConfig)
	}
	if b.MultiPullSize < 0 {
		return fmt.Errorf("%w: multi-pull size must be >= 0", ErrBannerConfig)
	}
	if b.MultiPullDiscount < 0 || b.MultiPullDiscount >= 1 {
		return fmt.Errorf("%w: multi-pull discount must be in [0,1)", ErrBannerConfig)
	}
	if !b.EndAt.IsZero() && !b.EndAt.After(b.StartAt) {
		return fmt.Errorf("%w: end must be after start", ErrBannerConfig)
	}
	return nil
}

// PullOutcome is one resolved pull.
type PullOutcome struct {
	ItemID          string  `json:"itemId"`
	ItemName        string  `json:"itemName"`
	Rarity          Rarity  `json:"rarity"`
	IsFeatured      bool    `json:"isFeatured"`
	PityCountAtDraw int     `json:"pityCountAtDraw"`
	IsGuaranteed    bool    `json:"isGuaranteed"` // forced by hard pity or by the carried featured flag
	Roll            float64 `json:"roll"`
}

// RollSampler is the randomness a single pull needs.
type RollSampler interface {
	RollRarity(rates RarityRates) (Rarity, float64)
	RollFeatured(featuredRate float64, guaranteed bool) bool
}

// Roll resolves the rarity layer of one pull from the current state: adjust the rates for
// the pity count, roll a rarity and, for the top two, roll featured vs pool.
// Item selection is left to the caller.
func Roll(b *Banner, s RollSampler, st PityState) PullOutcome {
	rates := Adjust(b.Rates, b.Policy, st.PityCounter)
	rarity, u := s.RollRarity(rates)
	out := PullOutcome{
		Rarity:          rarity,
		PityCountAtDraw: st.PityCounter,
		Roll:            u,
		IsGuaranteed:    b.Policy.IsHardPity(st.PityCounter),
	}
	if rarity.IsTopTwo() {
		out.IsFeatured = s.RollFeatured(b.FeaturedRate, st.GuaranteedFeatured)
		if st.GuaranteedFeatured {
			out.IsGuaranteed = true
		}
	}
	return out
}
