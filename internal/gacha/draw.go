package gacha

// Draw reports a Bernoulli hit with probability p.
// p <= 0 never hits, p >= 1 always hits, otherwise rng.Float64() < p.
func Draw(p float64, rng RandomSource) (bool, error) {
	if err := validateProb(p); err != nil {
		return false, err
	}
	if p <= 0 {
		return false, nil
	}
	if p >= 1 {
		return true, nil
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	return rng.Float64() < p, nil
}

// Sampler turns uniform draws into rarities, featured decisions and item picks.
type Sampler struct {
	RNG RandomSource
}

// NewSampler uses the crypto source when rng is nil.
func NewSampler(rng RandomSource) *Sampler {
	if rng == nil {
		rng = DefaultRNG()
	}
	return &Sampler{RNG: rng}
}

// RollRarity walks tiers rarest first and returns the first whose cumulative mass exceeds
// the draw, together with the raw draw. Rarest first makes a hard-pity table (top = 1)
// always pick the top tier and pushes boundary rounding toward the rarer outcome.
func (s *Sampler) RollRarity(rates RarityRates) (Rarity, float64) {
	u := s.RNG.Float64()
	var acc float64
	for r := Top(); r >= Common; r-- {
		acc += rates[r]
		if acc > u {
			return r, u
		}
	}
	// unreachable for a renormalized table
	return Common, u
}

// RollFeatured decides featured vs pool for a top-two pull.
func (s *Sampler) RollFeatured(featuredRate float64, guaranteed bool) bool {
	if guaranteed {
		return true
	}
	hit, err := Draw(featuredRate, s.RNG)
	if err != nil {
		// featured rate is validated with the banner
		return false
	}
	return hit
}

// Pick returns a uniform index in [0, n). n must be positive.
func (s *Sampler) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	i := int(s.RNG.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
