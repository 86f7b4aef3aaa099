package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yksanjo/tinyguardian/config"
	"github.com/yksanjo/tinyguardian/internal/api"
	"github.com/yksanjo/tinyguardian/internal/classify"
	"github.com/yksanjo/tinyguardian/internal/guard"
	redisinput "github.com/yksanjo/tinyguardian/internal/input/redis"
	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/internal/metrics"
	"github.com/yksanjo/tinyguardian/internal/normalize"
	"github.com/yksanjo/tinyguardian/internal/pipeline"
	"github.com/yksanjo/tinyguardian/internal/rules"
	"github.com/yksanjo/tinyguardian/internal/severity"
	"github.com/yksanjo/tinyguardian/internal/store"
	"github.com/yksanjo/tinyguardian/internal/ws"
)

func findConfigFile() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}

	if _, err := os.Stat("tinyguardian.yml"); err == nil {
		return "tinyguardian.yml"
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "tinyguardian.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "tinyguardian.yml"
}

func applyDefaults(cfg *config.TinyGuardianConfig) {
	if len(cfg.Input.Redis.Patterns) == 0 {
		cfg.Input.Redis.Patterns = []string{"iot/devices/*/logs"}
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.QueueCapacity <= 0 {
		cfg.Pipeline.QueueCapacity = 256
	}
	if cfg.Pipeline.ShutdownGrace <= 0 {
		cfg.Pipeline.ShutdownGrace = 15 * time.Second
	}
	if cfg.Guard.Cooldown <= 0 {
		cfg.Guard.Cooldown = 5 * time.Minute
	}
	if cfg.Guard.EscalationThreshold <= 0 {
		cfg.Guard.EscalationThreshold = 0.2
	}
	if cfg.Guard.Capacity <= 0 {
		cfg.Guard.Capacity = 4096
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = 10 * time.Second
	}
	if cfg.Classifier.Concurrency <= 0 {
		cfg.Classifier.Concurrency = 4
	}
	if cfg.Severity.AlertThreshold <= 0 {
		cfg.Severity.AlertThreshold = 0.7
	}
	if cfg.Store.Mode == "" {
		cfg.Store.Mode = "memory"
	}
	if cfg.Store.EventHistory <= 0 {
		cfg.Store.EventHistory = 1000
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func main() {
	configFile := findConfigFile()
	root, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", configFile, err)
	}
	cfg := &root.TinyGuardian
	applyDefaults(cfg)

	if err := logger.Init(cfg.Logging.Enabled, cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Infof("Starting tinyguardian (config: %s)", configFile)

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local classifier chain: Sigma rules first when configured, then the
	// built-in keyword engine. Used both for provisional fingerprint
	// bucketing and as the fallback when the reasoning engine is down.
	localRules := rules.Chain{}
	if cfg.Rules.SigmaEnabled && cfg.Rules.SigmaPath != "" {
		sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.Rules.SigmaPath)
		if err != nil {
			log.Fatalf("Failed to load sigma rules from %s: %v", cfg.Rules.SigmaPath, err)
		}
		logger.Infof("Sigma rules loaded: %d/%d (%d complex skipped, %d invalid)",
			stats.Loaded, stats.TotalFiles, stats.SkippedComplex, stats.SkippedInvalid)
		localRules = append(localRules, sigmaEngine)
	}
	localRules = append(localRules, rules.NewKeywordEngine())

	provider, err := classify.NewProvider(cfg.Classifier.Provider, classify.ProviderConfig{
		Model:   cfg.Classifier.Model,
		BaseURL: cfg.Classifier.BaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to create classifier provider: %v", err)
	}

	adapter := classify.NewAdapter(provider, localRules, classify.AdapterConfig{
		Timeout:                 cfg.Classifier.Timeout,
		MaxRetries:              cfg.Classifier.MaxRetries,
		Concurrency:             cfg.Classifier.Concurrency,
		BreakerFailureThreshold: cfg.Classifier.Breaker.FailureThreshold,
		BreakerOpenDuration:     cfg.Classifier.Breaker.OpenDuration,
		BreakerHalfOpenMax:      cfg.Classifier.Breaker.HalfOpenMax,
	})
	if provider != nil {
		if err := adapter.Probe(ctx); err != nil {
			logger.Warnf("Classifier provider %s unreachable, classifications will use fallback rules: %v",
				provider.Name(), err)
		} else {
			logger.Infof("Classifier provider %s is reachable", provider.Name())
		}
	} else {
		logger.Infof("No classifier provider configured, using fallback rules only")
	}

	var st store.Store
	switch cfg.Store.Mode {
	case "memory":
		st = store.NewMemoryStore(cfg.Store.EventHistory)
	case "postgres":
		st, err = store.NewPostgresStore(cfg.Store.Postgres.URL)
		if err != nil {
			log.Fatalf("Failed to open postgres store: %v", err)
		}
	default:
		log.Fatalf("Unknown store mode: %s (expected memory or postgres)", cfg.Store.Mode)
	}
	defer st.Close()

	g, err := guard.New(guard.Config{
		Cooldown:            cfg.Guard.Cooldown,
		EscalationThreshold: cfg.Guard.EscalationThreshold,
		Capacity:            cfg.Guard.Capacity,
	})
	if err != nil {
		log.Fatalf("Failed to create cooldown guard: %v", err)
	}

	mapper := severity.NewMapper(cfg.Severity.BaseScores)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	feed, err := redisinput.NewSubscriber(redisinput.Config{
		Addr:     cfg.Input.Redis.Addr,
		Password: cfg.Input.Redis.Password,
		DB:       cfg.Input.Redis.DB,
		Patterns: cfg.Input.Redis.Patterns,
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to event feed: %v", err)
	}

	pipe := pipeline.New(feed, normalize.New(), localRules, g, adapter, mapper, st, hub, pipeline.Config{
		Workers:        cfg.Pipeline.Workers,
		QueueCapacity:  cfg.Pipeline.QueueCapacity,
		ShutdownGrace:  cfg.Pipeline.ShutdownGrace,
		AlertThreshold: cfg.Severity.AlertThreshold,
	})
	defer pipe.Close()

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(st, hub, adapter).Handler(),
	}
	go func() {
		logger.Infof("Dashboard API listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			cancel()
		}
	}()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- pipe.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %v, shutting down", sig)
		cancel()
		<-pipelineDone
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline exited: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("API server shutdown: %v", err)
	}

	logger.Infof("tinyguardian stopped")
}
