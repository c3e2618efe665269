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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mediagrab/mediagrab/internal/api"
	"github.com/mediagrab/mediagrab/internal/bus"
	"github.com/mediagrab/mediagrab/internal/config"
	"github.com/mediagrab/mediagrab/internal/engine"
	"github.com/mediagrab/mediagrab/internal/fetch"
	"github.com/mediagrab/mediagrab/internal/fsutil"
	mglog "github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/resolve"
	"github.com/mediagrab/mediagrab/internal/retry"
	"github.com/mediagrab/mediagrab/internal/session"
	"github.com/mediagrab/mediagrab/internal/telemetry"
	"github.com/mediagrab/mediagrab/internal/transcode"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	mglog.Configure(mglog.Config{
		Level:   "info",
		Service: "mediagrab",
		Version: version,
	})
	logger := mglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	mglog.Configure(mglog.Config{
		Level:   cfg.LogLevel,
		Service: "mediagrab",
		Version: version,
	})

	if *configPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", *configPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Str("data_dir", cfg.DataDir).
			Msg("data directory is not usable")
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "mediagrab",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// A nil transcoder disables merge and quality conversion; plain
	// downloads still work.
	var transcoder engine.Transcoder
	if t, err := transcode.New(cfg.FFmpeg, cfg.FFmpegTimeout); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "transcoder.unavailable").
			Msg("ffmpeg not found, merge and conversion disabled")
	} else {
		transcoder = t
		logger.Info().Str("binary", t.Binary()).Msg("ffmpeg available")
	}

	resolveClient := &http.Client{
		Timeout:   cfg.FetchTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	registry := resolve.NewRegistry(map[media.Platform]resolve.Resolver{
		media.PlatformYouTube:   resolve.NewYouTube(resolveClient),
		media.PlatformInstagram: resolve.NewInstagram(resolveClient),
		media.PlatformPinterest: resolve.NewPinterest(resolveClient),
	})

	// Transfers get no overall client timeout; long downloads are bounded
	// per request phase and recover through ranged retries.
	streamClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.FetchTimeout,
			MaxIdleConnsPerHost:   4,
		},
	}
	streamer := fetch.NewStreamer(streamClient, retry.Policy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	})

	store := session.NewStore()
	eventBus := bus.NewMemoryBus()
	broadcaster := session.NewBroadcaster(eventBus, cfg.BroadcastMinInterval)

	eng := engine.New(engine.Config{
		DataDir:         cfg.DataDir,
		Workers:         cfg.Workers,
		ItemConcurrency: cfg.ItemConcurrency,
	}, store, broadcaster, registry, streamer, transcoder)
	eng.Start(ctx)

	go store.Sweep(ctx, cfg.SessionTTL, 5*time.Minute)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next config.AppConfig) {
				mglog.SetLevel(next.LogLevel)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	apiServer := api.NewServer(api.Config{
		DataDir:         cfg.DataDir,
		FFmpegAvailable: transcoder != nil,
		Version:         version,
		RateLimit:       cfg.RateLimit,
	}, eng, registry, store, broadcaster, eventBus)

	mux := http.NewServeMux()
	if cfg.MetricsAddr == "" {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", apiServer.Router())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "startup").
			Str("version", version).
			Str("commit", commit).
			Str("build_date", buildDate).
			Str("addr", cfg.Listen).
			Str("data_dir", cfg.DataDir).
			Msg("starting mediagrab")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics listener shutdown failed")
		}
	}

	// Workers drain on the signalled context.
	eng.Wait()
	logger.Info().Msg("server exiting")
}
