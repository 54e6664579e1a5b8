package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alpineops/trailcache/internal/cache/sizedcache"
	"github.com/alpineops/trailcache/internal/cache/tilecache"
	"github.com/alpineops/trailcache/internal/core/config"
	"github.com/alpineops/trailcache/internal/core/httpclient"
	"github.com/alpineops/trailcache/internal/core/observability"
	"github.com/alpineops/trailcache/internal/core/router"
	"github.com/alpineops/trailcache/internal/core/server"
	"github.com/alpineops/trailcache/internal/loader"
	"github.com/alpineops/trailcache/internal/logger"
	"github.com/alpineops/trailcache/internal/parse"
)

var Version = "dev"

type readiness struct {
	ok atomic.Bool
}

func (r *readiness) Readiness() (bool, string) {
	if r.ok.Load() {
		return true, "drive loop running"
	}
	return false, "starting"
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "trailcached",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting trailcached",
		"addr", cfg.Addr,
		"version", Version,
		"cache_budget_mb", cfg.MaxMemoryMB,
		"tile_budget_mb", cfg.TileMaxMemoryMB)

	idx, err := loadCandidateIndex(cfg.TrackIndexPath)
	if err != nil {
		appLog.Error("failed to load candidate index", "err", err)
		return 1
	}

	httpClient := httpclient.NewOutbound()

	pipeline := parse.NewPipeline(appLog, cfg.ParseWorkers, cfg.ParseQueue, cfg.ParseTimeout)
	defer pipeline.Close()

	trackCache := sizedcache.New(cfg.MaxBytes(),
		sizedcache.WithStaleAfter[*parse.Result](cfg.StaleAfter),
		sizedcache.WithOnEvict[*parse.Result](func(_, reason string) {
			observability.IncEviction("track", reason)
		}),
	)
	source := loader.NewHTTPTrackSource(httpClient, cfg.TrackBaseURL)
	ld := loader.New(appLog, pipeline, source, trackCache, loader.Config{
		BatchSize: cfg.BatchSize,
	})
	ld.SetCandidates(idx.Snapshot())

	tiles := tilecache.New(appLog,
		tilecache.NewHTTPProvider(httpClient, cfg.TileURLTemplate, cfg.TileAPIKey),
		tilecache.Options{
			MaxBytes:     cfg.TileMaxBytes(),
			MaxEntries:   cfg.TileMaxEntries,
			Expiry:       cfg.TileExpiry,
			PreloadBatch: cfg.PreloadBatch,
			PreloadDelay: cfg.PreloadDelay,
		})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := &readiness{}
	go driveLoop(ctx, cfg, ld, tiles, ready)

	deps := router.Deps{
		Logger:     appLog,
		Loader:     ld,
		Tiles:      tiles,
		Candidates: idx.Snapshot,
		PreloadRad: cfg.PreloadRadius,
	}

	if err := server.Run(ctx, cfg, appLog, deps, ready); err != nil {
		appLog.Error("server failed", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

// driveLoop owns the loader and both caches' timers: it debounces
// LoadNextBatch and fires periodic sweeps. The library itself never
// schedules anything.
func driveLoop(ctx context.Context, cfg config.Config,
	ld *loader.Loader, tiles *tilecache.Cache, ready *readiness) {
	debounce := time.NewTicker(cfg.Debounce)
	defer debounce.Stop()
	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()

	ready.ok.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-debounce.C:
			if ld.State() != loader.StateComplete {
				ld.LoadNextBatch(ctx)
			}
		case <-sweep.C:
			ld.SweepCache()
			tiles.Sweep()
		}
	}
}
