// Package banner is the authoring side: banner create/update, catalog import and
// the admin pity reset.
package banner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xtding233/gacha-pity/internal/catalog"
	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

// Invalidator drops cached banners; an empty id drops all of them.
type Invalidator interface {
	Invalidate(id string)
}

type PityInvalidator interface {
	Invalidate(playerID, scope string)
}

type Service struct {
	store     storage.Store
	banners   Invalidator
	snapshots PityInvalidator
	scope     storage.ScopeMode
	log       *slog.Logger
}

func New(store storage.Store, banners Invalidator, snapshots PityInvalidator, scope storage.ScopeMode, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if scope == "" {
		scope = storage.ScopeBanner
	}
	return &Service{store: store, banners: banners, snapshots: snapshots, scope: scope, log: log}
}

// checkItems rejects pools that reference unknown items.
func (s *Service) checkItems(ctx context.Context, b *gacha.Banner) error {
	found, err := s.store.FindByIDs(ctx, b.PoolItemIDs)
	if err != nil {
		return errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load items")
	}
	if len(found) == 0 {
		return errs.Validation(errs.EmptyPool, "none of the pool items exist")
	}
	known := make(map[string]bool, len(found))
	for _, it := range found {
		known[it.ID] = true
	}
	for _, id := range b.PoolItemIDs {
		if !known[id] {
			return errs.Validation(errs.BannerInvalid, "unknown pool item %q", id)
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, b *gacha.Banner) error {
	if err := b.Validate(); err != nil {
		return errs.Banner(err, errs.KindValidation)
	}
	if err := s.checkItems(ctx, b); err != nil {
		return err
	}
	if err := s.store.PutBanner(ctx, b); err != nil {
		return errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "save banner")
	}
	if s.banners != nil {
		s.banners.Invalidate(b.ID)
	}
	return nil
}

// Create stores a new banner. An empty ID is assigned.
func (s *Service) Create(ctx context.Context, b *gacha.Banner) (*gacha.Banner, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	} else if _, err := uuid.Parse(b.ID); err != nil {
		return nil, errs.Validation(errs.InvalidID, "banner id must be a uuid")
	}
	if _, err := s.store.GetBanner(ctx, b.ID); err == nil {
		return nil, errs.Validation(errs.BannerInvalid, "banner %s already exists", b.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load banner")
	}
	if err := s.put(ctx, b); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "banner created", "banner_id", b.ID, "name", b.Name)
	return b, nil
}

// Update replaces an existing banner.
func (s *Service) Update(ctx context.Context, id string, b *gacha.Banner) (*gacha.Banner, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	b.ID = id
	if err := s.put(ctx, b); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "banner updated", "banner_id", b.ID)
	return b, nil
}

// Get reads the store directly so admins always see the current version.
func (s *Service) Get(ctx context.Context, id string) (*gacha.Banner, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.Validation(errs.InvalidID, "banner id must be a uuid")
	}
	b, err := s.store.GetBanner(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound(errs.BannerNotFound, "banner %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load banner")
	}
	return b, nil
}

// ResetPity deletes a player's pity row for the scope bannerID resolves to.
func (s *Service) ResetPity(ctx context.Context, playerID, bannerID string) error {
	if _, err := uuid.Parse(playerID); err != nil {
		return errs.Validation(errs.InvalidID, "player id must be a uuid")
	}
	b, err := s.Get(ctx, bannerID)
	if err != nil {
		return err
	}
	scope := s.scope.Key(b)
	if err := s.store.Reset(ctx, playerID, scope); err != nil {
		return errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "reset pity")
	}
	if s.snapshots != nil {
		s.snapshots.Invalidate(playerID, scope)
	}
	s.log.InfoContext(ctx, "pity reset", "player_id", playerID, "scope", scope)
	return nil
}

// LoadCatalog upserts every item and banner of a resolved catalog in one transaction.
func (s *Service) LoadCatalog(ctx context.Context, c *catalog.Catalog) error {
	err := s.store.Do(ctx, func(ctx context.Context) error {
		if err := s.store.PutItems(ctx, c.Items); err != nil {
			return err
		}
		for _, b := range c.Banners {
			if err := s.store.PutBanner(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "import catalog")
	}
	if s.banners != nil {
		s.banners.Invalidate("")
	}
	s.log.InfoContext(ctx, "catalog loaded", "banners", len(c.Banners), "items", len(c.Items))
	return nil
}
