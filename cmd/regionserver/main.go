package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/regionstore/internal/httpapi"
	"github.com/freeeve/regionstore/internal/logx"
	"github.com/freeeve/regionstore/internal/region"
	"github.com/freeeve/regionstore/internal/worlddir"
)

// envString returns the value of key, or def when unset.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func main() {
	var (
		// Storage
		root             = pflag.String("root", envString("REGIONSTORE_ROOT", "./data/worlds"), "directory holding one subdirectory per world")
		capacity         = pflag.Int("capacity", envInt("REGIONSTORE_CAPACITY", region.DefaultCapacity), "max region files held open")
		compressionLevel = pflag.Int("compression-level", envInt("REGIONSTORE_COMPRESSION_LEVEL", region.DefaultCompressionLevel), "zstd level for region files")

		// Flush scheduling
		flushDelay     = pflag.Duration("flush-delay", envDuration("REGIONSTORE_FLUSH_DELAY", region.DefaultFlushDelay), "quiet time before a dirty region is flushed")
		scheduleWindow = pflag.Duration("schedule-window", envDuration("REGIONSTORE_SCHEDULE_WINDOW", region.DefaultScheduleWindow), "flush checks are spread across this window")
		schedulePause  = pflag.Duration("schedule-pause", envDuration("REGIONSTORE_SCHEDULE_PAUSE", region.DefaultSchedulePause), "pause between flush passes")

		// Server
		addr     = pflag.String("addr", envString("REGIONSTORE_ADDR", ":8008"), "listen address")
		logLevel = pflag.String("log-level", envString("REGIONSTORE_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	)
	pflag.Parse()

	logger := logx.New(os.Stdout, logx.ParseLevel(*logLevel))

	cache, err := region.NewCache(region.CacheOptions{
		Logger:           logger.With().Str("component", "region-cache").Logger(),
		Capacity:         *capacity,
		FlushDelay:       *flushDelay,
		ScheduleWindow:   *scheduleWindow,
		SchedulePause:    *schedulePause,
		CompressionLevel: *compressionLevel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create region cache")
	}

	resolver := worlddir.Resolver{Root: *root}
	store := region.NewStore(cache, resolver.Resolve, logger.With().Str("component", "region-store").Logger())

	registry := prometheus.NewRegistry()
	registry.MustRegister(cache.Collectors()...)

	logger.Info().
		Str("root", *root).
		Int("capacity", *capacity).
		Dur("flush_delay", *flushDelay).
		Msg("opened region store")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      httpapi.NewRouter(logger, store, registry),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("region server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("region server stopped")
	}

	// Requests have drained; persist every open region before exiting
	logger.Info().Int("open", cache.Len()).Msg("flushing region cache...")
	if err := cache.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("region cache flush error")
		os.Exit(1)
	}

	stats := cache.Stats()
	logger.Info().
		Uint64("flushes", stats.Flushes).
		Uint64("chunk_writes", stats.ChunkWrites).
		Msg("shutdown complete")
}
