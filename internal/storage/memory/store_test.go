package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

func TestPityGetDefaultsToZero(t *testing.T) {
	s := New()
	st, err := s.Get(context.Background(), "p1", "b1")
	if err != nil {
		t.Fatal(err)
	}
	if st.PlayerID != "p1" || st.Scope != "b1" || st.PityCounter != 0 || st.Version != 0 {
		t.Fatalf("unexpected zero state: %+v", st)
	}
}

func TestPitySaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	st, _ := s.Get(ctx, "p1", "b1")
	st.PityCounter = 3
	saved, err := s.Save(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Version != 1 {
		t.Fatalf("version=%d, want 1", saved.Version)
	}
	// stale writer still holds version 0
	if _, err := s.Save(ctx, st); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale save err=%v, want ErrConflict", err)
	}
	if err := s.Reset(ctx, "p1", "b1"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "p1", "b1")
	if got.PityCounter != 0 {
		t.Fatalf("reset did not clear state: %+v", got)
	}
}

func TestDoAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	err := s.Do(ctx, func(ctx context.Context) error {
		if _, err := s.Save(ctx, gacha.PityState{PlayerID: "p1", Scope: "b1", PityCounter: 7}); err != nil {
			return err
		}
		if err := s.AppendBatch(ctx, []storage.PullRecord{{ID: "r1", PlayerID: "p1"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	st, _ := s.Get(ctx, "p1", "b1")
	recs, _ := s.ListByPlayer(ctx, "p1", "", 0)
	if st.PityCounter != 0 || len(recs) != 0 {
		t.Fatalf("failed tx leaked writes: state=%+v history=%d", st, len(recs))
	}

	err = s.Do(ctx, func(ctx context.Context) error {
		if _, err := s.Save(ctx, gacha.PityState{PlayerID: "p1", Scope: "b1", PityCounter: 7}); err != nil {
			return err
		}
		return s.AppendBatch(ctx, []storage.PullRecord{{ID: "r1", PlayerID: "p1", BannerID: "b1"}})
	})
	if err != nil {
		t.Fatal(err)
	}
	st, _ = s.Get(ctx, "p1", "b1")
	recs, _ = s.ListByPlayer(ctx, "p1", "b1", 10)
	if st.PityCounter != 7 || len(recs) != 1 {
		t.Fatalf("committed tx missing writes: state=%+v history=%d", st, len(recs))
	}
}

func TestItemsFilterByRarity(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.PutItems(ctx, []gacha.Item{
		{ID: "a", Name: "A", Rarity: gacha.Common},
		{ID: "b", Name: "B", Rarity: gacha.Mythic},
	})
	got, _ := s.FindByIDsAndRarity(ctx, []string{"a", "b", "missing"}, gacha.Mythic)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("got %+v", got)
	}
	all, _ := s.FindByIDs(ctx, []string{"a", "b", "missing"})
	if len(all) != 2 {
		t.Fatalf("got %d items, want 2", len(all))
	}
}

func TestBannerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.GetBanner(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	b := &gacha.Banner{ID: "b1", PoolItemIDs: []string{"x"}, StartAt: time.Unix(0, 0)}
	_ = s.PutBanner(ctx, b)
	b.PoolItemIDs[0] = "mutated"
	got, err := s.GetBanner(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PoolItemIDs[0] != "x" {
		t.Fatalf("store aliased caller slice")
	}
}

func TestResetWaitsForRunningDo(t *testing.T) {
	s := New()
	ctx := context.Background()
	resetDone := make(chan error, 1)

	err := s.Do(ctx, func(ctx context.Context) error {
		st := gacha.NewPityState("p1", "b1")
		st.PityCounter = 7
		if _, err := s.Save(ctx, st); err != nil {
			return err
		}
		go func() { resetDone <- s.Reset(context.Background(), "p1", "b1") }()
		select {
		case <-resetDone:
			return errors.New("reset ran inside an open transaction")
		case <-time.After(20 * time.Millisecond):
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := <-resetDone; err != nil {
		t.Fatal(err)
	}
	st, err := s.Get(ctx, "p1", "b1")
	if err != nil {
		t.Fatal(err)
	}
	if st.PityCounter != 0 || st.Version != 0 {
		t.Fatalf("reset lost to the commit: %+v", st)
	}
}

func TestResetInsideDoIsStaged(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := gacha.NewPityState("p1", "b1")
	st.PityCounter = 3
	if _, err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err := s.Do(ctx, func(ctx context.Context) error {
		if err := s.Reset(ctx, "p1", "b1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if got, _ := s.Get(ctx, "p1", "b1"); got.PityCounter != 3 {
		t.Fatalf("rolled back reset applied: %+v", got)
	}
	if err := s.Do(ctx, func(ctx context.Context) error { return s.Reset(ctx, "p1", "b1") }); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, "p1", "b1"); got.PityCounter != 0 || got.Version != 0 {
		t.Fatalf("committed reset not applied: %+v", got)
	}
}
