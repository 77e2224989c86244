// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/api"
	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/discovery"
	"github.com/airwavehq/airwave/internal/identity"
	"github.com/airwavehq/airwave/internal/ingest"
	"github.com/airwavehq/airwave/internal/jobs"
	"github.com/airwavehq/airwave/internal/library"
	awlog "github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/resolver"
	"github.com/airwavehq/airwave/internal/scanner"
	"github.com/airwavehq/airwave/internal/telemetry"
	"github.com/airwavehq/airwave/internal/vector"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("airwaved %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without --config, pick up ${AIRWAVE_DATA}/config.yaml if it exists.
	effectivePath := *configPath
	if effectivePath == "" {
		dataDir := config.ParseString("AIRWAVE_DATA", config.Defaults().DataDir)
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	loader := config.NewLoader(effectivePath)
	cfg, err := loader.Load()
	if err != nil {
		awlog.Configure(awlog.Config{Service: "airwave", Version: version})
		lg := awlog.WithComponent("main")
		lg.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	awlog.Configure(awlog.Config{
		Level:   cfg.LogLevel,
		Service: "airwave",
		Version: version,
	})
	logger := awlog.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.data_dir").Str("dir", cfg.DataDir).Msg("data dir not writable")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("starting airwaved")
	if cfg.APIToken == "" {
		logger.Warn().
			Str("event", "startup.no_token").
			Msg("AIRWAVE_API_TOKEN not set; all /api requests will be rejected")
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "airwave",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialise tracing")
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Str("event", "telemetry.shutdown_failed").Msg("tracer shutdown failed")
		}
	}()

	store, err := library.NewStore(filepath.Join(cfg.DataDir, "airwave.db"))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "library.open_failed").Msg("failed to open knowledge base")
	}
	defer func() { _ = store.Close() }()

	index, err := vector.Open(filepath.Join(cfg.DataDir, "vectors"))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "vector.open_failed").Msg("failed to open vector index")
	}
	defer func() { _ = index.Close() }()

	// Drop index entries whose recordings are gone and add any missing ones.
	texts, err := store.ListRecordingTexts(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "vector.reconcile_failed").Msg("failed to list recordings")
	}
	seeds := make([]vector.Seed, len(texts))
	for i, t := range texts {
		seeds[i] = vector.Seed{RecordingID: t.RecordingID, Text: t.Text()}
	}
	if _, _, err := index.Reconcile(ctx, seeds); err != nil {
		logger.Fatal().Err(err).Str("event", "vector.reconcile_failed").Msg("failed to reconcile vector index")
	}

	var cache resolver.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("event", "redis.unreachable").Str("addr", cfg.RedisAddr).Msg("redis configured but unreachable")
		}
		defer func() { _ = client.Close() }()
		cache = resolver.NewRedisCache(client)
		logger.Info().Str("event", "resolver.cache").Str("backend", "redis").Str("addr", cfg.RedisAddr).Msg("resolver cache ready")
	} else {
		cache = resolver.NewMemoryCache()
		logger.Info().Str("event", "resolver.cache").Str("backend", "memory").Msg("resolver cache ready")
	}

	controller, err := jobs.NewController(filepath.Join(cfg.DataDir, "tasks.json"))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "jobs.init_failed").Msg("failed to initialise job controller")
	}
	defer controller.Close()

	manager := config.NewManager(cfg, loader)
	recorder := audit.NewRecorder(store.DB())
	matcher := match.New(store, index)
	engine := discovery.New(store, matcher)
	scan := scanner.New(store, index)

	server := api.NewServer(api.Deps{
		Config:   manager,
		Store:    store,
		Index:    index,
		Matcher:  matcher,
		Ingest:   ingest.New(store, engine),
		Identity: identity.New(store, recorder, cfg.AuditRetainDays),
		Engine:   engine,
		Resolver: resolver.New(store, cache, cfg.ResolverCacheTTL),
		Scanner:  scan,
		Jobs:     controller,
		Audit:    recorder,
	})

	// SIGHUP reloads the configuration file without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			_ = manager.Reload()
		}
	}()
	defer signal.Stop(hup)

	if cfg.ScanWatch && cfg.LibraryRoot != "" {
		go watchLibrary(ctx, logger, scan, controller, manager)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.ListenAddr).Msg("api listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown").Msg("signal received, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("event", "http.failed").Msg("api server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Str("event", "http.shutdown_failed").Msg("graceful shutdown incomplete")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("server exiting")
}

// watchLibrary triggers a scan task whenever the library directory settles
// after a burst of filesystem changes.
func watchLibrary(ctx context.Context, logger zerolog.Logger, scan *scanner.Scanner, controller *jobs.Controller, manager *config.Manager) {
	trigger := func() {
		app := manager.Current().App
		opts := scanner.Options{
			Root:       app.LibraryRoot,
			Extensions: app.ScanExtensions,
			MaxFileMB:  app.ScanMaxFileMB,
			Workers:    app.ScanWorkers,
			Fuzzy:      library.FuzzyOpts{Threshold: app.WorkFuzzyThreshold, MaxWorks: app.WorkFuzzyMaxWorks},
		}
		_, err := controller.Run(ctx, "scan", func(taskCtx context.Context, report func(jobs.Progress)) error {
			_, err := scan.Scan(taskCtx, opts, func(current, total int, msg string) {
				report(jobs.Progress{Current: current, Total: total, Message: msg})
			})
			return err
		})
		if err != nil && !errors.Is(err, library.ErrConflict) {
			logger.Warn().Err(err).Str("event", "scanner.watch.trigger_failed").Msg("watch-triggered scan not started")
		}
	}

	app := manager.Current().App
	if err := scan.Watch(ctx, app.LibraryRoot, app.ScanWatchDelay, trigger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("event", "scanner.watch.failed").Msg("library watch stopped")
	}
}
