// Package storage defines the persistence collaborators of the pull engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the pity row changed since it was read.
	ErrConflict = errors.New("pity state version conflict")
)

// ScopeMode selects how pity is shared between banners.
type ScopeMode string

const (
	ScopeBanner ScopeMode = "banner" // one counter per banner
	ScopeType   ScopeMode = "type"   // one counter per banner type
)

func ParseScopeMode(s string) (ScopeMode, error) {
	switch ScopeMode(s) {
	case ScopeBanner, ScopeType:
		return ScopeMode(s), nil
	case "":
		return ScopeBanner, nil
	}
	return "", fmt.Errorf("unknown pity scope %q", s)
}

// Key returns the pity scope key of a banner under this mode.
func (m ScopeMode) Key(b *gacha.Banner) string {
	if m == ScopeType && b.Type != "" {
		return "type:" + b.Type
	}
	return b.ID
}

// PullRecord is one history row.
type PullRecord struct {
	ID       string    `json:"id"`
	PlayerID string    `json:"playerId"`
	BannerID string    `json:"bannerId"`
	Scope    string    `json:"scope"`
	PulledAt time.Time `json:"pulledAt"`
	gacha.PullOutcome
}

type BannerStore interface {
	// GetBanner returns ErrNotFound for unknown ids. Activity is checked by the caller.
	GetBanner(ctx context.Context, id string) (*gacha.Banner, error)
	PutBanner(ctx context.Context, b *gacha.Banner) error
}

type ItemStore interface {
	FindByIDsAndRarity(ctx context.Context, ids []string, rarity gacha.Rarity) ([]gacha.Item, error)
	FindByIDs(ctx context.Context, ids []string) ([]gacha.Item, error)
	PutItems(ctx context.Context, items []gacha.Item) error
}

type PityStore interface {
	// Get returns the stored state, or a zero state with Version 0 when none exists yet.
	Get(ctx context.Context, playerID, scope string) (gacha.PityState, error)
	// Save writes st if the stored version still equals st.Version and returns the state
	// with its new version. A stale version yields ErrConflict.
	Save(ctx context.Context, st gacha.PityState) (gacha.PityState, error)
	// Reset deletes the row; only the admin path calls it.
	Reset(ctx context.Context, playerID, scope string) error
}

type HistoryStore interface {
	AppendBatch(ctx context.Context, recs []PullRecord) error
	ListByPlayer(ctx context.Context, playerID, bannerID string, limit int) ([]PullRecord, error)
}

// Transactor runs fn in one transaction; trm.Manager satisfies it.
type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is a complete backend.
type Store interface {
	BannerStore
	ItemStore
	PityStore
	HistoryStore
	Transactor
	Close() error
}
