package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eloity-labs/reward-engine/internal/admin"
	"github.com/eloity-labs/reward-engine/internal/api"
	"github.com/eloity-labs/reward-engine/internal/bus"
	"github.com/eloity-labs/reward-engine/internal/cache"
	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/limiter"
	"github.com/eloity-labs/reward-engine/internal/notifier"
	"github.com/eloity-labs/reward-engine/internal/repository"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/eloity-labs/reward-engine/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("REWARDD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting rewardd",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("REWARDD_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule store with TTL-bounded cache
	ruleStore := store.New(repo, cacheImpl, cfg.RuleTTL)
	slog.Info("rule store initialized", "ttl", ruleStore.TTL())

	// Reward calculator
	calc, err := reward.NewCalculator(ruleStore)
	if err != nil {
		slog.Error("failed to initialize calculator", "error", err)
		os.Exit(1)
	}
	slog.Info("reward calculator initialized")

	// Activity limiter over the ledger
	lim := limiter.New(repo, ruleStore)
	slog.Info("activity limiter initialized")

	// Rule administration
	adm := admin.New(repo, ruleStore, busImpl, calc.Conditions())

	// Change notifier keeps this node's cache coherent with mutations
	// published by other nodes.
	notif := notifier.New(busImpl, ruleStore)
	stopNotifier, err := notif.Start(ctx)
	if err != nil {
		slog.Error("failed to start change notifier", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := stopNotifier(); err != nil {
			slog.Error("failed to stop change notifier", "error", err)
		}
	}()
	slog.Info("change notifier started", "topic", domain.TopicRuleChanged)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, ruleStore, calc, lim, adm, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("rewardd is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("rewardd shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  rewardd - reward calculation & rate limiting engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /calculate                      - Preview a reward amount")
	fmt.Println("    POST   /award                          - Calculate and reserve quota")
	fmt.Println("    GET    /limits/{userID}/{actionType}   - Remaining quota per window")
	fmt.Println("    GET    /rules                          - List active rules")
	fmt.Println("    GET    /rules/applicable               - Rules a trust score clears")
	fmt.Println("    GET    /rules/{actionType}             - Active rule for an action")
	fmt.Println("    POST   /rules                          - Create a rule")
	fmt.Println("    PATCH  /rules/{id}                     - Update a rule")
	fmt.Println("    DELETE /rules/{id}                     - Deactivate a rule")
	fmt.Println("    GET    /health                         - Health check")
	fmt.Println()
}
