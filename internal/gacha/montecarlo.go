package gacha

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// MaxSimulationCount caps one simulation run.
const MaxSimulationCount = 100000

// confidence level of the reported frequency intervals
const simConfidence = 0.95

// ctx is polled every ctxCheckEvery draws.
const ctxCheckEvery = 1024

var ErrSimCount = errors.New("simulation count must be in 1..100000")

// SimParams describes one simulation run.
type SimParams struct {
	Banner *Banner
	Count  int
	// Progress, when set, is called with the number of completed draws every ctxCheckEvery
	// draws and once at the end.
	Progress func(done int)
}

// Frequency is an observed rate with its Clopper-Pearson interval.
type Frequency struct {
	Observed float64 `json:"observed"`
	Lo       float64 `json:"lo"`
	Hi       float64 `json:"hi"`
}

// Stats summarizes integer samples.
type Stats struct {
	Mean   float64 `json:"mean"`
	Var    float64 `json:"var"`
	StdDev float64 `json:"stdDev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	// Optional: raw samples if caller needs histograms/exports
	Samples []int `json:"-"`
}

// SimResult is the tally of one run.
type SimResult struct {
	Count              int                  `json:"count"`
	RarityDistribution map[Rarity]int       `json:"rarityDistribution"`
	FeaturedCount      int                  `json:"featuredCount"`
	Frequencies        map[Rarity]Frequency `json:"frequencies"`
	// PullsPerTopTwo is the number of pulls it took to reach each top-two hit.
	PullsPerTopTwo Stats         `json:"pullsPerTopTwo"`
	Elapsed        time.Duration `json:"-"`
}

// Simulate replays the pull math on a throwaway zero PityState: same adjust, rarity and
// featured rolls and tracker transitions as a real pull, without item selection or persistence.
func Simulate(ctx context.Context, p SimParams, s RollSampler) (SimResult, error) {
	if p.Count < 1 || p.Count > MaxSimulationCount {
		return SimResult{}, ErrSimCount
	}
	if p.Banner == nil {
		return SimResult{}, ErrBannerConfig
	}
	start := time.Now()
	tracker := Tracker{Policy: p.Banner.Policy}
	state := NewPityState("", "")

	dist := make(map[Rarity]int, numRarities)
	for _, r := range Rarities() {
		dist[r] = 0
	}
	featured := 0
	var gaps []int
	sinceTop := 0

	for i := 0; i < p.Count; i++ {
		if i%ctxCheckEvery == 0 && i > 0 {
			if err := ctx.Err(); err != nil {
				return SimResult{}, err
			}
			if p.Progress != nil {
				p.Progress(i)
			}
		}
		out := Roll(p.Banner, s, state)
		dist[out.Rarity]++
		sinceTop++
		if out.Rarity.IsTopTwo() {
			if out.IsFeatured {
				featured++
			}
			gaps = append(gaps, sinceTop)
			sinceTop = 0
		}
		state = tracker.Apply(state, out, time.Time{})
	}
	if p.Progress != nil {
		p.Progress(p.Count)
	}

	freqs := make(map[Rarity]Frequency, numRarities)
	for r, k := range dist {
		pHat, lo, hi := proportionCI(k, p.Count, simConfidence)
		freqs[r] = Frequency{Observed: pHat, Lo: lo, Hi: hi}
	}
	return SimResult{
		Count:              p.Count,
		RarityDistribution: dist,
		FeaturedCount:      featured,
		Frequencies:        freqs,
		PullsPerTopTwo:     calcStats(gaps),
		Elapsed:            time.Since(start),
	}, nil
}

// proportionCI is the Clopper-Pearson exact interval for k successes in n trials.
func proportionCI(k, n int, confidence float64) (pHat, lo, hi float64) {
	if n == 0 {
		return 0, 0, 1
	}
	alpha := 1 - confidence
	pHat = float64(k) / float64(n)
	if k > 0 {
		lo = distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}.Quantile(alpha / 2)
	}
	hi = 1
	if k < n {
		hi = distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}.Quantile(1 - alpha/2)
	}
	return pHat, lo, hi
}

// calcStats computes mean/variance/percentiles for integer samples.
func calcStats(xs []int) Stats {
	n := len(xs)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range xs {
		sum += float64(v)
	}
	mean := sum / float64(n)

	// population variance
	var acc float64
	for _, v := range xs {
		d := float64(v) - mean
		acc += d * d
	}
	variance := acc / float64(n)

	cp := append([]int(nil), xs...)
	sort.Ints(cp)
	percentile := func(p float64) float64 {
		if n == 1 || p <= 0 {
			return float64(cp[0])
		}
		if p >= 1 {
			return float64(cp[n-1])
		}
		pos := p * float64(n-1)
		i := int(math.Floor(pos))
		f := pos - float64(i)
		if i+1 >= n {
			return float64(cp[i])
		}
		return float64(cp[i])*(1-f) + float64(cp[i+1])*f
	}

	return Stats{
		Mean:    mean,
		Var:     variance,
		StdDev:  math.Sqrt(variance),
		P50:     percentile(0.50),
		P90:     percentile(0.90),
		P99:     percentile(0.99),
		Samples: xs,
	}
}
