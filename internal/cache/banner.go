package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

// Banners is a read-through cache over a BannerStore. Concurrent misses for the
// same id share one store read.
type Banners struct {
	store storage.BannerStore
	ttl   *TTL[string, *gacha.Banner]
	group singleflight.Group

	// a load only fills the cache if no invalidation happened since it started
	mu    sync.Mutex
	gen   map[string]uint64
	epoch uint64
}

func NewBanners(store storage.BannerStore, ttl time.Duration) *Banners {
	return &Banners{
		store: store,
		ttl:   NewTTL[string, *gacha.Banner](ttl),
		gen:   make(map[string]uint64),
	}
}

func (c *Banners) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.gen[id]
}

func (c *Banners) fill(id string, b *gacha.Banner, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch+c.gen[id] == gen {
		c.ttl.Set(id, b)
	}
}

// Get returns a private copy of the banner; callers may not mutate the cached value.
func (c *Banners) Get(ctx context.Context, id string) (*gacha.Banner, error) {
	if b, ok := c.ttl.Get(id); ok {
		return cloneBanner(b), nil
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		gen := c.generation(id)
		// shared by every waiter; one caller giving up must not fail the rest
		b, err := c.store.GetBanner(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		c.fill(id, b, gen)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneBanner(v.(*gacha.Banner)), nil
}

// Invalidate drops one banner, or every banner when id is empty.
func (c *Banners) Invalidate(id string) {
	c.mu.Lock()
	if id == "" {
		c.epoch++
		c.ttl.Purge()
	} else {
		c.gen[id]++
		c.ttl.Delete(id)
	}
	c.mu.Unlock()
	c.group.Forget(id)
}

func cloneBanner(b *gacha.Banner) *gacha.Banner {
	cp := *b
	cp.FeaturedItemIDs = slices.Clone(b.FeaturedItemIDs)
	cp.PoolItemIDs = slices.Clone(b.PoolItemIDs)
	return &cp
}
