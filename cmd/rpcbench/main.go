// RPC provider benchmark harness.
// Runs one scenario sweep against the configured JSON-RPC providers and
// writes per-call timings to CSV, with an optional observer HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gateway-fm/rpcbench/internal/config"
	"github.com/gateway-fm/rpcbench/internal/metrics"
	"github.com/gateway-fm/rpcbench/internal/scenario"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/internal/transport"
)

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	// Provider URLs and range defaults come from the environment (see
	// config.Load); flags override the loaded values.
	scenarioName := flag.String("scenario", getEnvOrDefault("SCENARIO", "limits"), "Scenario sweep to run (protocols, providers, probe, limits)")
	startBlock := flag.Uint64("start-block", 0, "First block of the benchmark range (0 = configured default)")
	numBlocks := flag.Int("blocks", 0, "Default batch size in blocks (0 = configured default)")
	requestTimeout := flag.Duration("request-timeout", 0, "Per-call timeout (0 = configured default)")
	outputDir := flag.String("output", "", "Directory for per-call CSV files (empty = configured default)")
	databasePath := flag.String("database", "", "SQLite run index path (empty = configured default)")
	listenAddr := flag.String("listen", "", "Observer HTTP listen address (empty = configured default, \"off\" disables)")
	corsOrigins := flag.String("cors-origins", getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"), "Comma-separated allowed CORS origins")

	// Cooldowns are negative-sentinel so an explicit 0 can disable a pause
	protocolCooldown := flag.Duration("protocol-cooldown", -1, "Pause between protocol profiles (negative = configured default)")
	providerCooldown := flag.Duration("provider-cooldown", -1, "Pause between providers (negative = configured default)")
	probeCooldown := flag.Duration("probe-cooldown", -1, "Pause after probe and burst batches (negative = configured default)")

	// Logging
	logLevel := flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Start pprof server on localhost only (not reachable from outside the container)
	go func() {
		logger.Info("pprof listening", "addr", "localhost:6061")
		if err := http.ListenAndServe("localhost:6061", nil); err != nil {
			logger.Error("pprof server failed", "error", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Apply flag overrides
	if *startBlock > 0 {
		cfg.StartBlock = *startBlock
	}
	if *numBlocks > 0 {
		cfg.NumBlocks = *numBlocks
	}
	if *requestTimeout > 0 {
		cfg.RequestTimeout = *requestTimeout
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *databasePath != "" {
		cfg.DatabasePath = *databasePath
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.ListenAddr == "off" {
		cfg.ListenAddr = ""
	}
	if *protocolCooldown >= 0 {
		cfg.ProtocolCooldown = *protocolCooldown
	}
	if *providerCooldown >= 0 {
		cfg.ProviderCooldown = *providerCooldown
	}
	if *probeCooldown >= 0 {
		cfg.ProbeCooldown = *probeCooldown
	}
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize the run index
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize run index", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("initialized run index", "path", cfg.DatabasePath)

	// Per-call CSV output
	sink, err := storage.NewCSVSink(cfg.OutputDir)
	if err != nil {
		logger.Error("failed to initialize CSV output", "error", err, "dir", cfg.OutputDir)
		os.Exit(1)
	}
	logger.Info("initialized CSV output", "dir", cfg.OutputDir)

	benchMetrics := metrics.NewBenchMetrics(nil)
	progress := metrics.NewProgress()
	registry := scenario.NewRegistry()

	driver := scenario.New(scenario.Config{
		Config:   cfg,
		Storage:  store,
		Sink:     sink,
		Metrics:  benchMetrics,
		Progress: progress,
		Registry: registry,
		Logger:   logger,
	})

	// Observer API: live status, run index, Prometheus metrics, WebSocket
	if cfg.ListenAddr != "" {
		server := transport.NewServer(progress, store, registry, logger, *corsOrigins)
		defer server.Close()

		go func() {
			logger.Info("starting observer server", "addr", cfg.ListenAddr)
			if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
				logger.Error("observer server failed", "error", err)
			}
		}()
	}

	// Handle interrupt: cancel the sweep, keep results persisted so far
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping sweep", "signal", sig.String())
		cancel()
	}()

	started := time.Now()
	runErr := driver.Execute(ctx, *scenarioName)

	snapshot := progress.Snapshot()
	logger.Info("sweep finished",
		"scenario", *scenarioName,
		"status", snapshot.Status,
		"batches", snapshot.BatchesDone,
		"calls", snapshot.CallsDone,
		"errors", snapshot.CallsFailed,
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("sweep failed", "error", runErr)
		os.Exit(1)
	}
}
