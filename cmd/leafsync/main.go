package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/leafsync/internal/api"
	"github.com/darshan-rambhia/leafsync/internal/auth"
	"github.com/darshan-rambhia/leafsync/internal/collector"
	"github.com/darshan-rambhia/leafsync/internal/config"
	"github.com/darshan-rambhia/leafsync/internal/diag"
	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/relay"
	"github.com/darshan-rambhia/leafsync/internal/remote"
	"github.com/darshan-rambhia/leafsync/internal/status"
	"github.com/darshan-rambhia/leafsync/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority; VCS info
// from debug.ReadBuildInfo fills in anything left as default.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

func newLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	configPath := flag.String("config", "", "path to leafsync.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("leafsync %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp leafsync.example.yml %s\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("leafsync stopped gracefully")
}

// run wires the agent together and blocks until SIGINT/SIGTERM. Only
// startup failures are returned.
func run(cfg *config.Config) error {
	ver, sha, _, _ := buildInfo()
	clientID := auth.ClientID(cfg.ClientID)

	slog.Info("starting leafsync",
		"version", ver,
		"commit", sha,
		"go", runtime.Version(),
		"client_id", clientID,
		"sensor_url", cfg.SensorURL,
		"admin_url", cfg.AdminURL,
		"db_path", cfg.DBPath,
	)

	// Opening the store applies pending migrations; a failure here is fatal.
	st, err := store.New(cfg.DBPath, store.WithCapacity(cfg.MaxReadings))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	m := metrics.New()
	tracker := status.New(time.Now())
	reporter := diag.NewStoreReporter(st, m, tracker)

	client := remote.NewClient(cfg.AdminURL, remote.WithTimeout(cfg.HTTPTimeout.Duration))
	tokens := auth.NewTokenCache(st, client, clientID,
		auth.WithLifetime(cfg.TokenLifetime.Duration),
		auth.WithSafetyMargin(cfg.TokenSafetyMargin.Duration),
		auth.WithAcquireHook(m.TokenAcquisitions.Inc),
	)

	deps := relay.Deps{
		Store:    st,
		Tokens:   tokens,
		Remote:   client,
		Reporter: reporter,
		ClientID: clientID,
		Metrics:  m,
		Status:   tracker,
	}

	samples := make(chan model.Sample, cfg.QueueSize)
	sensor := collector.NewSensorCollector(collector.SensorConfig{
		URL:          cfg.SensorURL,
		PollInterval: cfg.PollInterval.Duration,
		Timeout:      cfg.HTTPTimeout.Duration,
	}, samples, collector.WithMetrics(m), collector.WithStatus(tracker))

	pipeline := relay.NewPipeline(deps)
	reconciler := relay.NewReconciler(deps, cfg.ReconcileInterval.Duration)
	pruner := store.NewPruner(st, store.RetentionConfig{LogEntries: cfg.LogRetention.Duration})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return collector.Run(ctx, sensor, reporter) })
	g.Go(func() error { return pipeline.Run(ctx, samples) })
	g.Go(func() error { return reconciler.Run(ctx) })
	g.Go(func() error { return pruner.Run(ctx) })

	if cfg.Listen != "" {
		server := api.NewServer(cfg.Listen, tracker, st, m)
		g.Go(func() error { return server.Run(ctx) })
	}

	slog.Info("all components started",
		"poll_interval", cfg.PollInterval.Duration,
		"reconcile_interval", cfg.ReconcileInterval.Duration,
		"max_readings", cfg.MaxReadings,
		"listen", cfg.Listen,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("component stopped", "error", err)
	}
	return nil
}
