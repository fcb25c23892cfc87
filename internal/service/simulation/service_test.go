package simulation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xtding233/gacha-pity/internal/cache"
	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage/memory"
)

func setup(t *testing.T, maxConcurrent int) (*Service, *gacha.Banner) {
	t.Helper()
	mem := memory.New()
	b := &gacha.Banner{
		ID:              uuid.NewString(),
		Rates:           gacha.DefaultRates,
		Policy:          gacha.DefaultPolicy,
		FeaturedItemIDs: []string{"m1"},
		PoolItemIDs:     []string{"m1", "c1"},
		FeaturedRate:    0.5,
		// not yet started: simulations still run
		StartAt: time.Now().Add(72 * time.Hour),
	}
	if err := mem.PutBanner(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cache.NewBanners(mem, time.Minute), maxConcurrent, log), b
}

func TestSimulateTallies(t *testing.T) {
	svc, b := setup(t, 2)
	seed := uint64(42)
	res, err := svc.Simulate(context.Background(), Request{BannerID: b.ID, Count: 10000, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, n := range res.RarityDistribution {
		total += n
	}
	if total != 10000 || res.Count != 10000 {
		t.Fatalf("tallied %d of %d", total, res.Count)
	}
	if res.FeaturedCount == 0 {
		t.Fatal("no featured pulls in 10000 draws")
	}
	if res.PullsPerTopTwo.P99 > float64(b.Policy.HardPity) {
		t.Fatalf("p99 gap %v exceeds hard pity", res.PullsPerTopTwo.P99)
	}
}

func TestSeededRunsRepeat(t *testing.T) {
	svc, b := setup(t, 2)
	seed := uint64(7)
	a, err := svc.Simulate(context.Background(), Request{BannerID: b.ID, Count: 2000, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	c, err := svc.Simulate(context.Background(), Request{BannerID: b.ID, Count: 2000, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range gacha.Rarities() {
		if a.RarityDistribution[r] != c.RarityDistribution[r] {
			t.Fatalf("%s: %d vs %d", r, a.RarityDistribution[r], c.RarityDistribution[r])
		}
	}
}

func TestSimulateValidation(t *testing.T) {
	svc, b := setup(t, 1)
	ctx := context.Background()
	cases := []struct {
		req  Request
		code errs.Code
	}{
		{Request{BannerID: b.ID, Count: 0}, errs.InvalidCount},
		{Request{BannerID: b.ID, Count: gacha.MaxSimulationCount + 1}, errs.InvalidCount},
		{Request{BannerID: "nope", Count: 10}, errs.InvalidID},
		{Request{BannerID: uuid.NewString(), Count: 10}, errs.BannerNotFound},
	}
	for _, c := range cases {
		_, err := svc.Simulate(ctx, c.req)
		if errs.CodeOf(err) != c.code {
			t.Fatalf("%+v: code=%s, want %s", c.req, errs.CodeOf(err), c.code)
		}
	}
}

func TestSimulateClassifiesBannerFaults(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	base := func() *gacha.Banner {
		return &gacha.Banner{
			ID:           uuid.NewString(),
			Rates:        gacha.DefaultRates,
			Policy:       gacha.DefaultPolicy,
			PoolItemIDs:  []string{"c1"},
			FeaturedRate: 0.5,
		}
	}
	empty := base()
	empty.PoolItemIDs = nil
	badRates := base()
	badRates.Rates[gacha.Common] += 0.5
	stray := base()
	stray.FeaturedItemIDs = []string{"m9"}

	cases := []struct {
		b    *gacha.Banner
		code errs.Code
	}{
		{empty, errs.EmptyPool},
		{badRates, errs.RateTableInvalid},
		{stray, errs.BannerInvalid},
	}
	svc := New(cache.NewBanners(mem, time.Minute), 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, c := range cases {
		if err := mem.PutBanner(ctx, c.b); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Simulate(ctx, Request{BannerID: c.b.ID, Count: 10})
		if errs.CodeOf(err) != c.code {
			t.Fatalf("code=%s, want %s (err=%v)", errs.CodeOf(err), c.code, err)
		}
		if e, ok := errs.As(err); !ok || e.Kind != errs.KindConfig {
			t.Fatalf("kind: %+v", e)
		}
	}
}

func TestSimulateWaitsForSlot(t *testing.T) {
	svc, b := setup(t, 1)
	if err := svc.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer svc.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Simulate(ctx, Request{BannerID: b.ID, Count: 10})
	if err == nil {
		t.Fatal("expected error while every slot is busy")
	}
}
