package cache

import (
	"context"
	"time"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

// PitySnapshots caches pity reads for display endpoints. The pull path reads
// the store directly and invalidates the entry after each commit.
type PitySnapshots struct {
	store storage.PityStore
	ttl   *TTL[string, gacha.PityState]
}

func NewPitySnapshots(store storage.PityStore, ttl time.Duration) *PitySnapshots {
	return &PitySnapshots{store: store, ttl: NewTTL[string, gacha.PityState](ttl)}
}

func snapshotKey(playerID, scope string) string { return playerID + "|" + scope }

func (c *PitySnapshots) Get(ctx context.Context, playerID, scope string) (gacha.PityState, error) {
	k := snapshotKey(playerID, scope)
	if st, ok := c.ttl.Get(k); ok {
		return st, nil
	}
	st, err := c.store.Get(ctx, playerID, scope)
	if err != nil {
		return gacha.PityState{}, err
	}
	c.ttl.Set(k, st)
	return st, nil
}

func (c *PitySnapshots) Invalidate(playerID, scope string) {
	c.ttl.Delete(snapshotKey(playerID, scope))
}
