// Package simulation runs Monte Carlo pulls against a banner's rates without
// touching player state.
package simulation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

const defaultMaxConcurrent = 4

type BannerSource interface {
	Get(ctx context.Context, id string) (*gacha.Banner, error)
}

type Request struct {
	BannerID string
	Count    int
	Seed     *uint64 // nil draws from the crypto source
}

type Service struct {
	banners BannerSource
	sem     *semaphore.Weighted
	log     *slog.Logger
	tracer  trace.Tracer
	// newSampler builds the sampler of one run.
	newSampler func(seed *uint64) gacha.RollSampler
}

// New caps concurrently running simulations at maxConcurrent; further requests
// wait for a slot or for their context.
func New(banners BannerSource, maxConcurrent int, log *slog.Logger) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		banners: banners,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		log:     log,
		tracer:  otel.Tracer("github.com/xtding233/gacha-pity/internal/service/simulation"),
		newSampler: func(seed *uint64) gacha.RollSampler {
			if seed != nil {
				return gacha.NewSampler(gacha.NewSeededRNG(*seed))
			}
			return gacha.NewSampler(nil)
		},
	}
}

// Simulate runs req.Count draws on its own goroutine so a canceled caller returns
// promptly; the run itself stops at its next context check.
func (s *Service) Simulate(ctx context.Context, req Request) (*gacha.SimResult, error) {
	if _, err := uuid.Parse(req.BannerID); err != nil {
		return nil, errs.Validation(errs.InvalidID, "bannerId must be a uuid")
	}
	if req.Count < 1 || req.Count > gacha.MaxSimulationCount {
		return nil, errs.Validation(errs.InvalidCount, "count must be in 1..%d, got %d", gacha.MaxSimulationCount, req.Count)
	}
	b, err := s.banners.Get(ctx, req.BannerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound(errs.BannerNotFound, "banner %s not found", req.BannerID)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.PersistenceFailed, errs.KindRetryable, "load banner")
	}
	if err := b.Validate(); err != nil {
		return nil, errs.Banner(err, errs.KindConfig)
	}

	ctx, span := s.tracer.Start(ctx, "simulation.Simulate", trace.WithAttributes(
		attribute.String("banner.id", req.BannerID),
		attribute.Int("simulation.count", req.Count),
	))
	defer span.End()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(err, errs.Internal, errs.KindInternal, "simulation slot wait aborted")
	}

	type result struct {
		res gacha.SimResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.sem.Release(1)
		res, err := gacha.Simulate(ctx, gacha.SimParams{Banner: b, Count: req.Count}, s.newSampler(req.Seed))
		done <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(ctx.Err(), errs.Internal, errs.KindInternal, "simulation canceled")
	case r := <-done:
		if r.err != nil {
			return nil, errs.Wrap(r.err, errs.Internal, errs.KindInternal, "simulation failed")
		}
		s.log.InfoContext(ctx, "simulation finished",
			"banner_id", req.BannerID, "count", req.Count,
			"featured", r.res.FeaturedCount, "elapsed", r.res.Elapsed)
		return &r.res, nil
	}
}
