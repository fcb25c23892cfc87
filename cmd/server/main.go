package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	v1 "github.com/xtding233/gacha-pity/internal/api/v1"
	"github.com/xtding233/gacha-pity/internal/cache"
	"github.com/xtding233/gacha-pity/internal/catalog"
	"github.com/xtding233/gacha-pity/internal/config"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/logger"
	"github.com/xtding233/gacha-pity/internal/service/banner"
	"github.com/xtding233/gacha-pity/internal/service/pull"
	"github.com/xtding233/gacha-pity/internal/service/simulation"
	"github.com/xtding233/gacha-pity/internal/storage"
	"github.com/xtding233/gacha-pity/internal/storage/memory"
	"github.com/xtding233/gacha-pity/internal/storage/postgres"
	"github.com/xtding233/gacha-pity/internal/storage/sqlite"
)

const serviceName = "gacha-pity"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logger())
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.PGDSN)
	default:
		return sqlite.Open(cfg.SQLitePath)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StorageDriver, err)
	}
	defer store.Close()

	banners := cache.NewBanners(store, cfg.BannerCacheTTL)
	snapshots := cache.NewPitySnapshots(store, cfg.PityCacheTTL)
	admin := banner.New(store, banners, snapshots, cfg.Scope(), log)

	if cfg.CatalogDir != "" {
		loader := catalog.NewLoader(cfg.CatalogDir)
		if err := importCatalog(ctx, loader, admin); err != nil {
			return err
		}
		w := catalog.NewFileWatcher(loader.WatchPaths, cfg.CatalogInterval, func(changed []string) {
			log.Info("catalog changed", "files", changed)
			loader.Invalidate()
			if err := importCatalog(ctx, loader, admin); err != nil {
				// keep serving the last good catalog
				log.Error("catalog reload failed", "err", err)
			}
		})
		go w.Run(ctx)
	}

	pulls := pull.New(pull.Deps{
		Banners:   banners,
		Items:     store,
		Pity:      store,
		History:   store,
		Tx:        store,
		Snapshots: snapshots,
		Sampler:   gacha.NewSampler(gacha.DefaultRNG()),
		Logger:    log,
	}, pull.Options{Scope: cfg.Scope()})
	sims := simulation.New(banners, cfg.SimMaxConcurrent, log)

	h := v1.NewHandler(v1.HandlerDeps{Pulls: pulls, Simulations: sims, Banners: admin, Logger: log})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           v1.NewRouter(h, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver, "pity_scope", cfg.PityScope)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc health listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func importCatalog(ctx context.Context, loader *catalog.Loader, admin *banner.Service) error {
	cat, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	return admin.LoadCatalog(ctx, cat)
}
