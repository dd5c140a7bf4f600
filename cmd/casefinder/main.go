package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/use-agent/casefinder/api"
	"github.com/use-agent/casefinder/cache"
	"github.com/use-agent/casefinder/config"
	"github.com/use-agent/casefinder/extractor"
	"github.com/use-agent/casefinder/metrics"
	"github.com/use-agent/casefinder/navigator"
	"github.com/use-agent/casefinder/probe"
	"github.com/use-agent/casefinder/resilience"
	"github.com/use-agent/casefinder/search"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("casefinder starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"headless", cfg.Browser.Headless,
		"maxAttempts", cfg.Search.MaxAttempts,
		"circuitThreshold", cfg.Search.CircuitFailureThreshold,
	)

	// ── 3. Metrics ──────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.Multi{metrics.NewPrometheusSink(reg), metrics.LogSink{}}

	// ── 4. Launch browser ───────────────────────────────────────────
	factory, snapshots, err := openBrowser(cfg)
	if err != nil {
		slog.Error("failed to start navigator", "error", err)
		os.Exit(1)
	}
	defer factory.Close()

	// ── 5. Assemble the pipeline ────────────────────────────────────
	nav := navigator.New(cfg.Search, factory, navigator.RandomShaper{}, snapshots)
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "siaf",
		FailureThreshold: cfg.Search.CircuitFailureThreshold,
		Cooldown:         cfg.Search.CircuitCooldown,
	}, sink)

	var results *cache.Cache
	if cfg.Cache.Enabled {
		results = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		defer results.Close()
	}

	orch := search.New(nav, extractor.New(sink), breaker, search.Options{
		Policy:         resilience.NewRetryPolicy(cfg.Search.MaxAttempts, cfg.Search.BaseDelay, cfg.Search.MaxDelay),
		OverallTimeout: cfg.Search.OverallTimeout,
		Cache:          results,
		Sink:           sink,
	})

	// ── 6. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(cfg, api.Deps{
		Searcher: orch,
		Status:   orch,
		Prober:   probe.New(cfg.Search.IndexURL, nil),
		Gatherer: reg,
	}, startTime)

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		slog.Error("HTTP server error", "error", err)
		factory.Close()
		os.Exit(1)
	}

	// In-flight searches get 5 seconds; the rest see their context canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// factory.Close() runs via defer and kills Chrome.
	slog.Info("casefinder stopped")
}

// browser is the shared Chrome process behind every navigator session.
type browser interface {
	navigator.SessionFactory
	Close() error
}

var launchBrowser = func(cfg config.BrowserConfig) (browser, error) {
	return navigator.NewRodFactory(cfg)
}

// openBrowser prepares diagnostics and then launches Chrome, so a failure
// before the launch never leaves a browser process behind.
func openBrowser(cfg *config.Config) (browser, *navigator.Snapshotter, error) {
	var snapshots *navigator.Snapshotter
	if cfg.Diagnostics.CaptureEnabled {
		var err error
		snapshots, err = navigator.NewSnapshotter(cfg.Diagnostics.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise diagnostics: %w", err)
		}
		slog.Info("diagnostic capture enabled", "dir", cfg.Diagnostics.Dir)
	}

	factory, err := launchBrowser(cfg.Browser)
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}
	return factory, snapshots, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
