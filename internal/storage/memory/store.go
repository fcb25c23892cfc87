// Package memory keeps every collaborator in process. Used by tests and single-node dev runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

type txKey struct{}

// staged writes of one Do call
type memTx struct {
	pity    map[string]gacha.PityState
	resets  []string
	history []storage.PullRecord
}

type Store struct {
	txMu sync.Mutex // serializes Do and Reset

	mu      sync.RWMutex
	banners map[string]*gacha.Banner
	items   map[string]gacha.Item
	pity    map[string]gacha.PityState
	history []storage.PullRecord
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		banners: make(map[string]*gacha.Banner),
		items:   make(map[string]gacha.Item),
		pity:    make(map[string]gacha.PityState),
	}
}

func pityKey(playerID, scope string) string { return playerID + "|" + scope }

func (s *Store) Close() error { return nil }

// Do stages pity and history writes and applies them together when fn succeeds.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*memTx); nested {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{pity: make(map[string]gacha.PityState)}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range tx.resets {
		delete(s.pity, k)
	}
	for k, st := range tx.pity {
		s.pity[k] = st
	}
	s.history = append(s.history, tx.history...)
	return nil
}

func (s *Store) GetBanner(ctx context.Context, id string) (*gacha.Banner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.banners[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) PutBanner(ctx context.Context, b *gacha.Banner) error {
	cp := *b
	cp.FeaturedItemIDs = slices.Clone(b.FeaturedItemIDs)
	cp.PoolItemIDs = slices.Clone(b.PoolItemIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banners[b.ID] = &cp
	return nil
}

func (s *Store) FindByIDsAndRarity(ctx context.Context, ids []string, rarity gacha.Rarity) ([]gacha.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gacha.Item
	for _, id := range ids {
		if it, ok := s.items[id]; ok && it.Rarity == rarity {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]gacha.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gacha.Item
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) PutItems(ctx context.Context, items []gacha.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

func (s *Store) Get(ctx context.Context, playerID, scope string) (gacha.PityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.pity[pityKey(playerID, scope)]; ok {
		return st, nil
	}
	return gacha.NewPityState(playerID, scope), nil
}

func (s *Store) Save(ctx context.Context, st gacha.PityState) (gacha.PityState, error) {
	key := pityKey(st.PlayerID, st.Scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pity[key]; ok && cur.Version != st.Version {
		return gacha.PityState{}, storage.ErrConflict
	} else if !ok && st.Version != 0 {
		return gacha.PityState{}, storage.ErrConflict
	}
	st.Version++
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.pity[key] = st
		return st, nil
	}
	s.pity[key] = st
	return st, nil
}

// Reset waits for any running Do so a staged save cannot resurrect the row.
func (s *Store) Reset(ctx context.Context, playerID, scope string) error {
	key := pityKey(playerID, scope)
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		delete(tx.pity, key)
		tx.resets = append(tx.resets, key)
		return nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pity, key)
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, recs []storage.PullRecord) error {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.history = append(tx.history, recs...)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, recs...)
	return nil
}

// ListByPlayer returns newest first, later inserts first on equal times. An empty
// bannerID matches every banner.
func (s *Store) ListByPlayer(ctx context.Context, playerID, bannerID string, limit int) ([]storage.PullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.PullRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		r := s.history[i]
		if r.PlayerID == playerID && (bannerID == "" || r.BannerID == bannerID) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PulledAt.After(out[j].PulledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
