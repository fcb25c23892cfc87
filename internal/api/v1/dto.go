package v1

import (
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

type PullRequest struct {
	PlayerID string `json:"playerId"`
	Count    *int   `json:"count,omitempty"`
}

type PullResponse struct {
	Results     []gacha.PullOutcome `json:"results"`
	UpdatedPity gacha.PityState     `json:"updatedPity"`
	TotalCost   int64               `json:"totalCost"`
}

type SimulationRequest struct {
	Count int     `json:"count"`
	Seed  *uint64 `json:"seed,omitempty"`
}

type SimulationResponse struct {
	Count              int                              `json:"count"`
	RarityDistribution map[gacha.Rarity]int             `json:"rarityDistribution"`
	FeaturedCount      int                              `json:"featuredCount"`
	Frequencies        map[gacha.Rarity]gacha.Frequency `json:"frequencies"`
	PullsPerTopTwo     gacha.Stats                      `json:"pullsPerTopTwo"`
	ElapsedMs          int64                            `json:"elapsedMs"`
}

func toSimulationResponse(r *gacha.SimResult) SimulationResponse {
	return SimulationResponse{
		Count:              r.Count,
		RarityDistribution: r.RarityDistribution,
		FeaturedCount:      r.FeaturedCount,
		Frequencies:        r.Frequencies,
		PullsPerTopTwo:     r.PullsPerTopTwo,
		ElapsedMs:          r.Elapsed.Milliseconds(),
	}
}

type HistoryResponse struct {
	Pulls []storage.PullRecord `json:"pulls"`
}

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
