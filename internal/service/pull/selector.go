package pull

import (
	"context"
	"slices"

	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

// Sampler is the randomness of one pull: rarity and featured rolls plus item picks.
type Sampler interface {
	gacha.RollSampler
	Pick(n int) int
}

type candidateKey struct {
	set    string
	rarity gacha.Rarity
}

// selector resolves a rolled rarity to a concrete item for one banner. Lookups are
// memoized, so a batch hits the ItemStore at most once per (set, rarity).
type selector struct {
	items   storage.ItemStore
	sampler Sampler
	banner  *gacha.Banner

	offFeatured []string // pool minus featured
	memo        map[candidateKey][]gacha.Item
	all         []gacha.Item
	allLoaded   bool
}

func newSelector(items storage.ItemStore, s Sampler, b *gacha.Banner) *selector {
	off := make([]string, 0, len(b.PoolItemIDs))
	for _, id := range b.PoolItemIDs {
		if !slices.Contains(b.FeaturedItemIDs, id) {
			off = append(off, id)
		}
	}
	return &selector{
		items:       items,
		sampler:     s,
		banner:      b,
		offFeatured: off,
		memo:        make(map[candidateKey][]gacha.Item),
	}
}

func (s *selector) byRarity(ctx context.Context, set string, ids []string, r gacha.Rarity) ([]gacha.Item, error) {
	k := candidateKey{set: set, rarity: r}
	if v, ok := s.memo[k]; ok {
		return v, nil
	}
	v, err := s.items.FindByIDsAndRarity(ctx, ids, r)
	if err != nil {
		return nil, err
	}
	s.memo[k] = v
	return v, nil
}

// Select returns the item for a pull. The featured outcome of the pull is decided by
// the roll alone; when the featured set has nothing of the rolled rarity only the item
// comes from the pool.
//
// Featured top-two pulls draw from featured ∩ rarity. Lost top-two pulls prefer
// (pool − featured) ∩ rarity. Every path then falls back to pool ∩ rarity and
// finally to the whole pool. Nothing left is an EMPTY_POOL configuration fault.
func (s *selector) Select(ctx context.Context, r gacha.Rarity, featured bool) (gacha.Item, error) {
	if r.IsTopTwo() {
		set, ids := "off", s.offFeatured
		if featured {
			set, ids = "featured", s.banner.FeaturedItemIDs
		}
		c, err := s.byRarity(ctx, set, ids, r)
		if err != nil {
			return gacha.Item{}, err
		}
		if len(c) > 0 {
			return c[s.sampler.Pick(len(c))], nil
		}
	}
	c, err := s.byRarity(ctx, "pool", s.banner.PoolItemIDs, r)
	if err != nil {
		return gacha.Item{}, err
	}
	if len(c) > 0 {
		return c[s.sampler.Pick(len(c))], nil
	}
	if !s.allLoaded {
		s.all, err = s.items.FindByIDs(ctx, s.banner.PoolItemIDs)
		if err != nil {
			return gacha.Item{}, err
		}
		s.allLoaded = true
	}
	if len(s.all) == 0 {
		return gacha.Item{}, errs.Newf(errs.EmptyPool, errs.KindConfig,
			"banner %s has no resolvable item for %s", s.banner.ID, r)
	}
	return s.all[s.sampler.Pick(len(s.all))], nil
}
