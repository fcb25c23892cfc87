package gacha

import "time"

// PityState is one player's progress on one banner scope.
type PityState struct {
	PlayerID           string    `json:"playerId"`
	Scope              string    `json:"scope"`
	PityCounter        int       `json:"pityCounter"`        // pulls since the last top-two hit
	GuaranteedFeatured bool      `json:"guaranteedFeatured"` // next top-two hit is forced featured
	TotalPulls         int       `json:"totalPulls"`
	LegendaryCount     int       `json:"legendaryCount"` // top-two hits that lost the 50/50
	FeaturedCount      int       `json:"featuredCount"`  // top-two hits that were featured
	LastPullAt         time.Time `json:"lastPullAt,omitzero"`
	Version            int64     `json:"version"`
}

// NewPityState is the lazily created zero row.
func NewPityState(playerID, scope string) PityState {
	return PityState{PlayerID: playerID, Scope: scope}
}

// Tracker applies pull outcomes to a PityState.
type Tracker struct {
	Policy PityPolicy
}

// Apply returns the state after one resolved pull:
//   - below the top two: counter+1, flag unchanged.
//   - top two, featured: counter reset, FeaturedCount+1, flag cleared.
//   - top two, not featured: counter reset, LegendaryCount+1, flag set when the policy
//     compensates a lost 50/50.
//
// Forced pulls follow the same rules. Version is left to the store.
func (t Tracker) Apply(s PityState, o PullOutcome, at time.Time) PityState {
	s.TotalPulls++
	s.LastPullAt = at
	if !o.Rarity.IsTopTwo() {
		s.PityCounter++
		return s
	}
	s.PityCounter = 0
	if o.IsFeatured {
		s.FeaturedCount++
		s.GuaranteedFeatured = false
		return s
	}
	s.LegendaryCount++
	if t.Policy.GuaranteedFeaturedAfterLoss {
		s.GuaranteedFeatured = true
	}
	return s
}
