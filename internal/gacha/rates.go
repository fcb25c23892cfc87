package gacha

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RuntimeTolerance is the allowed drift of an adjusted table's sum from 1.
const RuntimeTolerance = 1e-4

var ErrRateTable = errors.New("invalid rate table")

// RarityRates holds one probability per tier, indexed by Rarity.
type RarityRates [numRarities]float64

// DefaultRates is the reference table used by tooling and tests.
var DefaultRates = RarityRates{
	Common:    0.503,
	Rare:      0.43,
	Epic:      0.051,
	Legendary: 0.006,
	Mythic:    0.01,
}

// RatesFromMap builds a table; tiers missing from m are 0.
func RatesFromMap(m map[Rarity]float64) (RarityRates, error) {
	var r RarityRates
	for k, v := range m {
		if !k.Valid() {
			return RarityRates{}, fmt.Errorf("%w: unknown tier %d", ErrRateTable, int(k))
		}
		r[k] = v
	}
	return r, nil
}

func (r RarityRates) Map() map[Rarity]float64 {
	m := make(map[Rarity]float64, numRarities)
	for i, v := range r {
		m[Rarity(i)] = v
	}
	return m
}

func (r RarityRates) Of(t Rarity) float64 { return r[t] }

func (r RarityRates) Top() float64 { return r[Top()] }

func (r RarityRates) Sum() float64 {
	var s float64
	for _, v := range r {
		s += v
	}
	return s
}

// Validate checks an author-supplied table: every rate finite and non-negative,
// and the decimal sum exactly 1.
func (r RarityRates) Validate() error {
	sum := decimal.Zero
	for i, v := range r {
		if err := validateProb(v); err != nil {
			return fmt.Errorf("%w: %s rate %v", ErrRateTable, Rarity(i), v)
		}
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: rates sum to %s, want 1", ErrRateTable, sum.String())
	}
	return nil
}

// ValidRuntime reports whether an adjusted table is a usable distribution.
func (r RarityRates) ValidRuntime() bool {
	for _, v := range r {
		if validateProb(v) != nil {
			return false
		}
	}
	return math.Abs(r.Sum()-1) <= RuntimeTolerance
}

// renormalize divides by the sum when it drifted past RuntimeTolerance.
func (r RarityRates) renormalize() RarityRates {
	s := r.Sum()
	if s <= 0 || math.Abs(s-1) <= RuntimeTolerance {
		return r
	}
	for i := range r {
		r[i] /= s
	}
	return r
}

func (r RarityRates) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r *RarityRates) UnmarshalJSON(b []byte) error {
	var m map[Rarity]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	v, err := RatesFromMap(m)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
