package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/securepaste/securepaste/internal/cache"
	"github.com/securepaste/securepaste/internal/clipboard"
	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/dashboard"
	"github.com/securepaste/securepaste/internal/engine"
	"github.com/securepaste/securepaste/internal/history"
	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/notify"
	"github.com/securepaste/securepaste/internal/pipeline"
	"github.com/securepaste/securepaste/internal/rules"
	"github.com/securepaste/securepaste/internal/stats"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath    = flag.String("config", "", "Path to configuration file")
		showVersion   = flag.Bool("version", false, "Show version information")
		checkEngine   = flag.Bool("check-engine", false, "Verify the analysis engine installation and exit")
		exportHistory = flag.String("export-history", "", "Export the operation history to a Parquet file and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("SecurePaste %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// One-shot history export runs without touching the clipboard.
	if *exportHistory != "" {
		exportHistoryAndExit(cfg, *exportHistory, log)
	}

	log.Info("Starting SecurePaste",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.String("engine_transport", cfg.Engine.Transport),
	)

	// Create engine client (probes and caches the transport choice)
	engineClient, err := engine.New(cfg.Engine, log.WithComponent("engine"))
	if err != nil {
		log.Fatal("Failed to create engine client", zap.Error(err))
	}
	defer engineClient.Close()

	// One-shot installation check
	if *checkEngine {
		checkEngineAndExit(engineClient, cfg.Engine.ProbeTimeout, log)
	}

	// Statistics with write-through JSON persistence
	statsStore := buildStats(cfg, log)

	// Operation history (embedded SQLite)
	var historyStore *history.Store
	if cfg.History.Enabled {
		historyStore, err = history.NewStore(cfg.History, log.WithComponent("history"))
		if err != nil {
			log.Error("History store unavailable, continuing without audit trail", zap.Error(err))
		} else {
			defer historyStore.Close()
		}
	}

	// Optional engine-result cache
	var resultCache cache.Cache = cache.Nop{}
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedis(cfg.Cache, log.WithComponent("cache"))
		if err != nil {
			log.Warn("Result cache unavailable, continuing without it", zap.Error(err))
		} else {
			resultCache = redisCache
			defer redisCache.Close()
		}
	}

	// Hot-reloadable rule configuration: the pipeline snapshots whatever is
	// current at the start of each run.
	var currentConfig atomic.Pointer[config.Config]
	currentConfig.Store(cfg)
	if err := config.Watch(cfg, func(updated *config.Config) {
		currentConfig.Store(updated)
		log.Info("Configuration reloaded",
			zap.Bool("rules_enabled", updated.Rules.Enabled),
			zap.Int("entity_rules", len(updated.Rules.Entities)),
			zap.Int("custom_patterns", len(updated.Rules.CustomPatterns)),
		)
	}); err != nil {
		log.Warn("Configuration watch unavailable", zap.Error(err))
	}

	// Notification fan-out: structured log always, dashboard hub if enabled.
	notifiers := notify.Multi{notify.NewLog(log.WithComponent("notify"))}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.New(cfg.Dashboard, statsStore, historyStore,
			engineClient.Transport, version, log.WithComponent("dashboard"))
		notifiers = append(notifiers, dash.Notifier())
	}

	// OS clipboard
	port, err := clipboard.NewSystemPort(log.WithComponent("clipboard"))
	if err != nil {
		log.Fatal("Failed to initialize clipboard", zap.Error(err))
	}

	// Assemble the pipeline
	var recorder pipeline.Recorder
	if historyStore != nil {
		recorder = historyStore
	}
	pipe := pipeline.New(pipeline.Config{
		EngineTimeout:    cfg.Engine.Timeout,
		SentinelCooldown: cfg.Pipeline.SentinelCooldown,
		EventsPerSecond:  cfg.Pipeline.EventsPerSecond,
		EventBurst:       cfg.Pipeline.EventBurst,
	}, pipeline.Deps{
		Port:      port,
		Engine:    engineClient,
		Cache:     resultCache,
		Stats:     statsStore,
		History:   recorder,
		Notifier:  notifiers,
		Rules:     func() rules.RuleSet { return currentConfig.Load().Rules },
		Transport: engineClient.Transport,
		Logger:    log.WithComponent("pipeline"),
	})

	if err := pipe.Start(); err != nil {
		log.Fatal("Failed to start pipeline", zap.Error(err))
	}

	// Start dashboard in goroutine
	serverErrors := make(chan error, 1)
	if dash != nil {
		go func() {
			serverErrors <- dash.Start()
		}()
	}

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Dashboard server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Stop taking clipboard events and wait for the in-flight run.
	pipe.Close()

	if dash != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dash.Stop(ctx); err != nil {
			log.Error("Failed to shut down dashboard gracefully", zap.Error(err))
		}
	}

	log.Info("SecurePaste shutdown complete")
}

// buildStats wires the statistics store with its file persister, seeding it
// from the previous session's counters.
func buildStats(cfg *config.Config, log *logger.Logger) *stats.Store {
	statsLog := log.WithComponent("stats")

	if cfg.Statistics.Path == "" {
		return stats.NewStore(stats.Snapshot{}, stats.NopPersister{}, statsLog)
	}

	persister, err := stats.NewFilePersister(cfg.Statistics.Path)
	if err != nil {
		statsLog.Warn("Statistics persistence unavailable", zap.Error(err))
		return stats.NewStore(stats.Snapshot{}, stats.NopPersister{}, statsLog)
	}

	initial, err := persister.Load()
	if err != nil {
		statsLog.Warn("Starting with fresh statistics", zap.Error(err))
		initial = stats.Snapshot{}
	}
	return stats.NewStore(initial, persister, statsLog)
}

// checkEngineAndExit verifies the worker installation and exits.
func checkEngineAndExit(client *engine.Client, timeout time.Duration, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.CheckInstallation(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Engine check failed: %v\n", err)
		client.Close()
		os.Exit(1)
	}

	engineVersion, err := client.Version(ctx)
	if err != nil {
		engineVersion = "unknown"
	}
	fmt.Printf("Engine check passed (transport: %s, %s)\n", client.Transport(), engineVersion)
	client.Close()
	os.Exit(0)
}

// exportHistoryAndExit dumps the audit trail to Parquet and exits.
func exportHistoryAndExit(cfg *config.Config, path string, log *logger.Logger) {
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "History is disabled in configuration; nothing to export")
		os.Exit(1)
	}

	store, err := history.NewStore(cfg.History, log.WithComponent("history"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, err := store.ExportParquet(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d operations to %s\n", count, path)
	os.Exit(0)
}
