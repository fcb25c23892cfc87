package pull

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xtding233/gacha-pity/internal/cache"
	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
	"github.com/xtding233/gacha-pity/internal/storage/memory"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// stubSampler replays scripted rarities and featured rolls and always picks the first item.
type stubSampler struct {
	mu       sync.Mutex
	rarities []gacha.Rarity
	featured []bool
	i, j     int
}

func (s *stubSampler) RollRarity(gacha.RarityRates) (gacha.Rarity, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rarities[s.i%len(s.rarities)]
	s.i++
	return r, 0.5
}

func (s *stubSampler) RollFeatured(_ float64, guaranteed bool) bool {
	if guaranteed {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.featured) == 0 {
		return false
	}
	f := s.featured[s.j%len(s.featured)]
	s.j++
	return f
}

func (s *stubSampler) Pick(int) int { return 0 }

var testItems = []gacha.Item{
	{ID: "m-feat", Name: "Featured Star", Rarity: gacha.Mythic},
	{ID: "m-std", Name: "Standard Star", Rarity: gacha.Mythic},
	{ID: "l1", Name: "Old Blade", Rarity: gacha.Legendary},
	{ID: "e1", Name: "Bow", Rarity: gacha.Epic},
	{ID: "r1", Name: "Shield", Rarity: gacha.Rare},
	{ID: "c1", Name: "Stick", Rarity: gacha.Common},
}

func testBanner() *gacha.Banner {
	return &gacha.Banner{
		ID:                uuid.NewString(),
		Name:              "Moonlit",
		Type:              "character",
		Rates:             gacha.DefaultRates,
		Policy:            gacha.DefaultPolicy,
		FeaturedItemIDs:   []string{"m-feat"},
		PoolItemIDs:       []string{"m-feat", "m-std", "l1", "e1", "r1", "c1"},
		FeaturedRate:      0.5,
		PullCost:          160,
		MultiPullSize:     10,
		MultiPullDiscount: 0.1,
		StartAt:           testNow.Add(-24 * time.Hour),
		EndAt:             testNow.Add(24 * time.Hour),
	}
}

type fixture struct {
	mem    *memory.Store
	svc    *Service
	banner *gacha.Banner
	player string
}

func newFixture(t *testing.T, s Sampler, scope storage.ScopeMode) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	b := testBanner()
	if err := mem.PutBanner(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := mem.PutItems(ctx, testItems); err != nil {
		t.Fatal(err)
	}
	svc := New(Deps{
		Banners:   cache.NewBanners(mem, time.Minute),
		Items:     mem,
		Pity:      mem,
		History:   mem,
		Tx:        mem,
		Snapshots: cache.NewPitySnapshots(mem, time.Minute),
		Sampler:   s,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{Scope: scope, RetryDelay: time.Millisecond, Now: func() time.Time { return testNow }})
	return &fixture{mem: mem, svc: svc, banner: b, player: uuid.NewString()}
}

func (f *fixture) pull(t *testing.T, count int) *Response {
	t.Helper()
	resp, err := f.svc.ExecutePull(context.Background(), Request{PlayerID: f.player, BannerID: f.banner.ID, Count: count})
	if err != nil {
		t.Fatalf("ExecutePull: %v", err)
	}
	return resp
}

func wantCode(t *testing.T, err error, code errs.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := errs.CodeOf(err); got != code {
		t.Fatalf("code=%s, want %s (err=%v)", got, code, err)
	}
}

func TestTenPullWithoutTopTier(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common, gacha.Rare, gacha.Epic}}, storage.ScopeBanner)
	resp := f.pull(t, 10)

	if len(resp.Results) != 10 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	for i, o := range resp.Results {
		if o.PityCountAtDraw != i {
			t.Fatalf("draw %d saw pity %d", i, o.PityCountAtDraw)
		}
		if o.ItemID == "" || o.IsFeatured {
			t.Fatalf("draw %d: %+v", i, o)
		}
	}
	if resp.UpdatedPity.PityCounter != 10 || resp.UpdatedPity.TotalPulls != 10 {
		t.Fatalf("final state: %+v", resp.UpdatedPity)
	}
	if resp.UpdatedPity.Version != 1 {
		t.Fatalf("state saved %d times, want once", resp.UpdatedPity.Version)
	}
	if resp.TotalCost != 1440 {
		t.Fatalf("cost=%d, want 1440", resp.TotalCost)
	}
	recs, _ := f.mem.ListByPlayer(context.Background(), f.player, f.banner.ID, 0)
	if len(recs) != 10 {
		t.Fatalf("history rows=%d, want 10", len(recs))
	}
}

func TestHardPityIsDeterministic(t *testing.T) {
	f := newFixture(t, gacha.NewSampler(gacha.NewSequenceRNG(0.999999, 0.1)), storage.ScopeBanner)
	ctx := context.Background()
	st := gacha.NewPityState(f.player, f.banner.ID)
	st.PityCounter = 89
	if _, err := f.mem.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	resp := f.pull(t, 1)
	o := resp.Results[0]
	if o.Rarity != gacha.Mythic || !o.IsGuaranteed || o.PityCountAtDraw != 89 {
		t.Fatalf("outcome at pity 89: %+v", o)
	}
	if resp.UpdatedPity.PityCounter != 0 {
		t.Fatalf("pity not reset: %+v", resp.UpdatedPity)
	}
}

func TestLostFiftyFiftyForcesNextFeatured(t *testing.T) {
	s := &stubSampler{rarities: []gacha.Rarity{gacha.Mythic, gacha.Mythic}, featured: []bool{false}}
	f := newFixture(t, s, storage.ScopeBanner)
	resp := f.pull(t, 2)

	lost, won := resp.Results[0], resp.Results[1]
	if lost.IsFeatured || lost.ItemID != "m-std" || lost.IsGuaranteed {
		t.Fatalf("first pull: %+v", lost)
	}
	if !won.IsFeatured || !won.IsGuaranteed || won.ItemID != "m-feat" {
		t.Fatalf("second pull: %+v", won)
	}
	st := resp.UpdatedPity
	if st.GuaranteedFeatured || st.LegendaryCount != 1 || st.FeaturedCount != 1 || st.PityCounter != 0 {
		t.Fatalf("final state: %+v", st)
	}
}

func TestFeaturedRollWithoutFeaturedItemFallsBack(t *testing.T) {
	s := &stubSampler{rarities: []gacha.Rarity{gacha.Legendary}, featured: []bool{true}}
	f := newFixture(t, s, storage.ScopeBanner)
	resp := f.pull(t, 1)
	o := resp.Results[0]
	if o.ItemID != "l1" || !o.IsFeatured {
		t.Fatalf("outcome: %+v", o)
	}
	if st := resp.UpdatedPity; st.FeaturedCount != 1 || st.LegendaryCount != 0 || st.GuaranteedFeatured {
		t.Fatalf("state: %+v", st)
	}
}

func TestGuaranteeClearedByLegendaryWithoutFeaturedItem(t *testing.T) {
	// featured set only holds a Mythic; the guaranteed pull lands on Legendary
	s := &stubSampler{rarities: []gacha.Rarity{gacha.Mythic, gacha.Legendary}, featured: []bool{false}}
	f := newFixture(t, s, storage.ScopeBanner)
	resp := f.pull(t, 2)

	lost, next := resp.Results[0], resp.Results[1]
	if lost.IsFeatured || lost.ItemID != "m-std" {
		t.Fatalf("first pull: %+v", lost)
	}
	if next.Rarity != gacha.Legendary || !next.IsFeatured || !next.IsGuaranteed || next.ItemID != "l1" {
		t.Fatalf("second pull: %+v", next)
	}
	st := resp.UpdatedPity
	if st.GuaranteedFeatured || st.LegendaryCount != 1 || st.FeaturedCount != 1 {
		t.Fatalf("final state: %+v", st)
	}
}

func TestLivePullsMatchSimulation(t *testing.T) {
	script := func() *stubSampler {
		return &stubSampler{
			rarities: []gacha.Rarity{gacha.Legendary, gacha.Common, gacha.Legendary, gacha.Mythic, gacha.Epic, gacha.Legendary},
			featured: []bool{true, false, false},
		}
	}
	f := newFixture(t, script(), storage.ScopeBanner)
	live := f.pull(t, 6).UpdatedPity

	sim, err := gacha.Simulate(context.Background(), gacha.SimParams{Banner: f.banner, Count: 6}, script())
	if err != nil {
		t.Fatal(err)
	}
	topTwo := sim.RarityDistribution[gacha.Legendary] + sim.RarityDistribution[gacha.Mythic]
	if live.FeaturedCount != sim.FeaturedCount {
		t.Fatalf("featured: live=%d sim=%d", live.FeaturedCount, sim.FeaturedCount)
	}
	if live.LegendaryCount != topTwo-sim.FeaturedCount {
		t.Fatalf("lost 50/50: live=%d sim=%d", live.LegendaryCount, topTwo-sim.FeaturedCount)
	}
	if live.TotalPulls != sim.Count {
		t.Fatalf("pulls: live=%d sim=%d", live.TotalPulls, sim.Count)
	}
}

func TestCountAndIDValidation(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()
	for _, c := range []int{-1, 11, 100} {
		_, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: f.banner.ID, Count: c})
		wantCode(t, err, errs.InvalidCount)
	}
	_, err := f.svc.ExecutePull(ctx, Request{PlayerID: "not-a-uuid", BannerID: f.banner.ID})
	wantCode(t, err, errs.InvalidID)

	resp := f.pull(t, 0)
	if len(resp.Results) != 1 || resp.TotalCost != 160 {
		t.Fatalf("default count: %d results, cost %d", len(resp.Results), resp.TotalCost)
	}
}

func TestBannerNotFoundAndInactive(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()

	_, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: uuid.NewString()})
	wantCode(t, err, errs.BannerNotFound)

	ended := testBanner()
	ended.StartAt = testNow.Add(-48 * time.Hour)
	ended.EndAt = testNow
	if err := f.mem.PutBanner(ctx, ended); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: ended.ID})
	wantCode(t, err, errs.BannerInactive)
}

func TestEmptyPoolLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()
	b := testBanner()
	b.FeaturedItemIDs = nil
	b.PoolItemIDs = []string{"ghost-1", "ghost-2"}
	if err := f.mem.PutBanner(ctx, b); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: b.ID, Count: 5})
	wantCode(t, err, errs.EmptyPool)
	if e, _ := errs.As(err); e.Kind != errs.KindConfig {
		t.Fatalf("kind=%s, want config", e.Kind)
	}
	st, _ := f.mem.Get(ctx, f.player, b.ID)
	recs, _ := f.mem.ListByPlayer(ctx, f.player, "", 0)
	if st.Version != 0 || len(recs) != 0 {
		t.Fatalf("failed pull wrote state=%+v history=%d", st, len(recs))
	}
}

func TestInvalidRatesAtPullTimeIsConfigFault(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()
	b := testBanner()
	b.Rates[gacha.Common] = 0.9
	if err := f.mem.PutBanner(ctx, b); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: b.ID})
	wantCode(t, err, errs.RateTableInvalid)
}

func TestConcurrentPullsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: f.banner.ID, Count: 5}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	st, _ := f.mem.Get(ctx, f.player, f.banner.ID)
	if st.PityCounter != 100 || st.TotalPulls != 100 {
		t.Fatalf("final state: %+v", st)
	}
	recs, _ := f.mem.ListByPlayer(ctx, f.player, "", 0)
	if len(recs) != 100 {
		t.Fatalf("history rows=%d, want 100", len(recs))
	}
	if n := f.svc.locks.size(); n != 0 {
		t.Fatalf("%d key locks leaked", n)
	}
}

func TestTypeScopeSharesPity(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeType)
	ctx := context.Background()
	rerun := testBanner()
	if err := f.mem.PutBanner(ctx, rerun); err != nil {
		t.Fatal(err)
	}
	f.pull(t, 3)
	resp, err := f.svc.ExecutePull(ctx, Request{PlayerID: f.player, BannerID: rerun.ID, Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.UpdatedPity.PityCounter != 5 || resp.UpdatedPity.Scope != "type:character" {
		t.Fatalf("shared state: %+v", resp.UpdatedPity)
	}
}

// conflictingPity fails every save as if another instance always wrote first.
type conflictingPity struct {
	storage.PityStore
	saves atomic.Int32
}

func (c *conflictingPity) Save(context.Context, gacha.PityState) (gacha.PityState, error) {
	c.saves.Add(1)
	return gacha.PityState{}, storage.ErrConflict
}

func TestVersionConflictIsRetriedThenSurfaced(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	cp := &conflictingPity{PityStore: f.mem}
	f.svc.d.Pity = cp

	_, err := f.svc.ExecutePull(context.Background(), Request{PlayerID: f.player, BannerID: f.banner.ID, Count: 3})
	wantCode(t, err, errs.PityConflict)
	if !errs.Retryable(err) {
		t.Fatal("conflict must be retryable")
	}
	if n := cp.saves.Load(); n != defaultMaxAttempts {
		t.Fatalf("save attempts=%d, want %d", n, defaultMaxAttempts)
	}
	recs, _ := f.mem.ListByPlayer(context.Background(), f.player, "", 0)
	if len(recs) != 0 {
		t.Fatalf("conflicting batches left %d history rows", len(recs))
	}
}

type failingHistory struct {
	storage.HistoryStore
}

func (failingHistory) AppendBatch(context.Context, []storage.PullRecord) error {
	return errors.New("disk full")
}

func TestHistoryFailureKeepsPity(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	f.svc.d.History = failingHistory{f.mem}

	_, err := f.svc.ExecutePull(context.Background(), Request{PlayerID: f.player, BannerID: f.banner.ID, Count: 4})
	wantCode(t, err, errs.PersistenceFailed)
	if !errs.Retryable(err) {
		t.Fatal("persistence failure must be retryable")
	}
	st, _ := f.mem.Get(context.Background(), f.player, f.banner.ID)
	if st.Version != 0 {
		t.Fatalf("pity saved without history: %+v", st)
	}
}

func TestPityOfIsInvalidatedAfterPull(t *testing.T) {
	f := newFixture(t, &stubSampler{rarities: []gacha.Rarity{gacha.Common}}, storage.ScopeBanner)
	ctx := context.Background()
	before, err := f.svc.PityOf(ctx, f.player, f.banner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if before.PityCounter != 0 {
		t.Fatalf("before: %+v", before)
	}
	f.pull(t, 3)
	after, err := f.svc.PityOf(ctx, f.player, f.banner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.PityCounter != 3 {
		t.Fatalf("stale snapshot after pull: %+v", after)
	}

	recs, err := f.svc.History(ctx, f.player, f.banner.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].PityCountAtDraw != 2 {
		t.Fatalf("history: %+v", recs)
	}
}

func TestCostDiscountOnlyForFullBatch(t *testing.T) {
	b := testBanner()
	cases := []struct {
		count int
		want  int64
	}{
		{1, 160},
		{9, 1440},
		{10, 1440},
	}
	for _, c := range cases {
		if got := Cost(b, c.count); got != c.want {
			t.Fatalf("Cost(%d)=%d, want %d", c.count, got, c.want)
		}
	}
}

func TestKeyLockExcludes(t *testing.T) {
	k := newKeyLock()
	unlock := k.Lock("a")
	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	// other keys are independent
	k.Lock("b")()
	unlock()
	<-acquired
	if k.size() != 0 {
		t.Fatalf("size=%d after release", k.size())
	}
}
