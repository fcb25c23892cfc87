// Package pull executes player pulls: validation, the sequential draw fold and
// the transactional commit of history and pity state.
package pull

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
	"github.com/xtding233/gacha-pity/internal/token"
)

const (
	// MaxPullCount bounds one request.
	MaxPullCount = 10

	defaultMaxAttempts = 3
)

// BannerSource loads banners, usually through the TTL cache.
type BannerSource interface {
	Get(ctx context.Context, id string) (*gacha.Banner, error)
}

// PitySnapshots is the display-side pity cache.
type PitySnapshots interface {
	Get(ctx context.Context, playerID, scope string) (gacha.PityState, error)
	Invalidate(playerID, scope string)
}

type Deps struct {
	Banners   BannerSource
	Items     storage.ItemStore
	Pity      storage.PityStore
	History   storage.HistoryStore
	Tx        storage.Transactor
	Snapshots PitySnapshots // optional
	Sampler   Sampler
	Logger    *slog.Logger
}

type Options struct {
	Scope       storage.ScopeMode
	MaxAttempts uint          // commit attempts on version conflicts; default 3
	RetryDelay  time.Duration // first backoff interval; default 20ms
	Now         func() time.Time
}

type Request struct {
	PlayerID string
	BannerID string
	Count    int // 0 means 1
}

type Response struct {
	Results     []gacha.PullOutcome `json:"results"`
	UpdatedPity gacha.PityState     `json:"updatedPity"`
	TotalCost   int64               `json:"totalCost"`
}

type Service struct {
	d      Deps
	opts   Options
	locks  *keyLock
	tracer trace.Tracer
}

func New(d Deps, o Options) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sampler == nil {
		d.Sampler = gacha.NewSampler(nil)
	}
	if o.Scope == "" {
		o.Scope = storage.ScopeBanner
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 20 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{
		d:      d,
		opts:   o,
		locks:  newKeyLock(),
		tracer: otel.Tracer("github.com/xtding233/gacha-pity/internal/service/pull"),
	}
}

func validateID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return errs.Validation(errs.InvalidID, "%s must be a uuid", field)
	}
	return nil
}

// loadBanner maps store errors to caller-facing codes.
func (s *Service) loadBanner(ctx context.Context, id string) (*gacha.Banner, error) {
	b, err := s.d.Banners.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound(errs.BannerNotFound, "banner %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load banner")
	}
	return b, nil
}

// ExecutePull runs one pull request end to end. State is only mutated by the final
// commit; any failure before it leaves pity and history untouched.
func (s *Service) ExecutePull(ctx context.Context, req Request) (*Response, error) {
	if err := validateID("playerId", req.PlayerID); err != nil {
		return nil, err
	}
	if err := validateID("bannerId", req.BannerID); err != nil {
		return nil, err
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > MaxPullCount {
		return nil, errs.Validation(errs.InvalidCount, "count must be in 1..%d, got %d", MaxPullCount, req.Count)
	}

	ctx, span := s.tracer.Start(ctx, "pull.ExecutePull", trace.WithAttributes(
		attribute.String("banner.id", req.BannerID),
		attribute.Int("pull.count", count),
	))
	defer span.End()

	resp, err := s.execute(ctx, req.PlayerID, req.BannerID, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errs.CodeOf(err)))
		s.d.Logger.WarnContext(ctx, "pull failed",
			"player_id", req.PlayerID, "banner_id", req.BannerID, "count", count,
			"code", errs.CodeOf(err), "err", err)
		return nil, err
	}
	s.d.Logger.InfoContext(ctx, "pull committed",
		"player_id", req.PlayerID, "banner_id", req.BannerID, "count", count,
		"pity", resp.UpdatedPity.PityCounter, "cost", resp.TotalCost)
	return resp, nil
}

func (s *Service) execute(ctx context.Context, playerID, bannerID string, count int) (*Response, error) {
	b, err := s.loadBanner(ctx, bannerID)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	if !b.Active(now) {
		return nil, errs.Newf(errs.BannerInactive, errs.KindPrecondition, "banner %s is not active", bannerID)
	}
	if err := b.Validate(); err != nil {
		return nil, errs.Banner(err, errs.KindConfig)
	}

	scope := s.opts.Scope.Key(b)
	unlock := s.locks.Lock(playerID + "|" + scope)
	defer unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryDelay

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempt++
		r, err := s.attempt(ctx, b, playerID, scope, count, now)
		if errors.Is(err, storage.ErrConflict) {
			s.d.Logger.DebugContext(ctx, "pity version conflict", "player_id", playerID, "scope", scope, "attempt", attempt)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return r, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.opts.MaxAttempts))

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrConflict):
		return nil, errs.Wrap(err, errs.PityConflict, errs.KindRetryable, "pity state changed concurrently")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "pull aborted before commit")
	default:
		return nil, err
	}

	if s.d.Snapshots != nil {
		s.d.Snapshots.Invalidate(playerID, scope)
	}
	resp.TotalCost = Cost(b, count)
	return resp, nil
}

// attempt reads the current state, folds count draws over it in memory and commits
// history plus the final state in one transaction.
func (s *Service) attempt(ctx context.Context, b *gacha.Banner, playerID, scope string, count int, now time.Time) (*Response, error) {
	st, err := s.d.Pity.Get(ctx, playerID, scope)
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load pity state")
	}
	outcomes, final, err := s.fold(ctx, b, st, count, now)
	if err != nil {
		return nil, err
	}

	recs := make([]storage.PullRecord, len(outcomes))
	for i, o := range outcomes {
		recs[i] = storage.PullRecord{
			ID:          uuid.Must(uuid.NewV7()).String(),
			PlayerID:    playerID,
			BannerID:    b.ID,
			Scope:       scope,
			PulledAt:    now,
			PullOutcome: o,
		}
	}

	var saved gacha.PityState
	err = s.d.Tx.Do(ctx, func(ctx context.Context) error {
		if err := s.d.History.AppendBatch(ctx, recs); err != nil {
			return err
		}
		var err error
		saved, err = s.d.Pity.Save(ctx, final)
		return err
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, err
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "commit pull batch")
	}
	return &Response{Results: outcomes, UpdatedPity: saved}, nil
}

// fold runs the draws strictly in order; each draw sees the state left by the previous one.
func (s *Service) fold(ctx context.Context, b *gacha.Banner, st gacha.PityState, count int, now time.Time) ([]gacha.PullOutcome, gacha.PityState, error) {
	tracker := gacha.Tracker{Policy: b.Policy}
	sel := newSelector(s.d.Items, s.d.Sampler, b)
	outcomes := make([]gacha.PullOutcome, 0, count)
	for range count {
		o := gacha.Roll(b, s.d.Sampler, st)
		item, err := sel.Select(ctx, o.Rarity, o.IsFeatured)
		if err != nil {
			if _, ok := errs.As(err); ok {
				return nil, st, err
			}
			return nil, st, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load banner items")
		}
		o.ItemID, o.ItemName = item.ID, item.Name
		outcomes = append(outcomes, o)
		st = tracker.Apply(st, o, now)
	}
	return outcomes, st, nil
}

// Cost is the price of count pulls on b in one request.
func Cost(b *gacha.Banner, count int) int64 {
	t := token.Token{
		Name:      b.Name,
		PerDraw:   b.PullCost,
		BatchSize: b.BatchSize(),
		Discount:  b.MultiPullDiscount,
	}
	return t.TokensForDraws(count)
}

// Scope returns the pity scope key bannerID resolves to.
func (s *Service) Scope(ctx context.Context, bannerID string) (string, error) {
	if err := validateID("bannerId", bannerID); err != nil {
		return "", err
	}
	b, err := s.loadBanner(ctx, bannerID)
	if err != nil {
		return "", err
	}
	return s.opts.Scope.Key(b), nil
}

// PityOf returns a possibly cached snapshot for display. Pulls never read it.
func (s *Service) PityOf(ctx context.Context, playerID, bannerID string) (gacha.PityState, error) {
	if err := validateID("playerId", playerID); err != nil {
		return gacha.PityState{}, err
	}
	scope, err := s.Scope(ctx, bannerID)
	if err != nil {
		return gacha.PityState{}, err
	}
	var st gacha.PityState
	if s.d.Snapshots != nil {
		st, err = s.d.Snapshots.Get(ctx, playerID, scope)
	} else {
		st, err = s.d.Pity.Get(ctx, playerID, scope)
	}
	if err != nil {
		return gacha.PityState{}, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load pity state")
	}
	return st, nil
}

// History returns a player's most recent pulls on a banner, newest first.
func (s *Service) History(ctx context.Context, playerID, bannerID string, limit int) ([]storage.PullRecord, error) {
	if err := validateID("playerId", playerID); err != nil {
		return nil, err
	}
	if err := validateID("bannerId", bannerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	recs, err := s.d.History.ListByPlayer(ctx, playerID, bannerID, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "list pull history")
	}
	return recs, nil
}
