// Tarifario - municipal slaughterhouse tariff calculation service.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/camal-digital/tarifario/internal/api"
	"github.com/camal-digital/tarifario/internal/audit"
	"github.com/camal-digital/tarifario/internal/bus"
	"github.com/camal-digital/tarifario/internal/cache"
	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/refvalues"
	"github.com/camal-digital/tarifario/internal/repository"
	"github.com/camal-digital/tarifario/internal/tariff"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local overrides from .env, ignored when absent
	_ = godotenv.Load()

	// Load configuration
	cfg, err := domain.LoadConfig(os.Getenv("TARIFARIO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	slog.Info("starting tarifario",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
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

	// Initialize CEL applicability evaluator
	exprs, err := conditions.NewExpressionEvaluator()
	if err != nil {
		slog.Error("failed to initialize expression evaluator", "error", err)
		os.Exit(1)
	}

	// Wire the tariff engine
	ttl := cfg.Engine.ResolverTTL()
	refs := refvalues.NewStore(repo, cacheImpl, busImpl, ttl)
	resolver := tariff.NewResolver(repo, cacheImpl, ttl)
	calc := tariff.NewCalculator(refs, cfg.Engine.RBUCode, cfg.Engine.DefaultCurrency)
	engine := tariff.NewEngine(resolver, calc, exprs, repo, busImpl)
	slog.Info("tariff engine initialized",
		"rbu_code", cfg.Engine.RBUCode,
		"currency", cfg.Engine.DefaultCurrency,
	)

	// Start audit recorder for the configured tenants
	var recorder *audit.Recorder
	if tenants := auditTenants(); len(tenants) > 0 {
		recorder = audit.NewRecorder(busImpl, repo)
		if err := recorder.Start(tenants); err != nil {
			slog.Error("failed to start audit recorder", "error", err)
		}
	} else {
		slog.Info("no audit tenants configured, audit recorder disabled")
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, resolver, refs, exprs, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("tarifario is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if recorder != nil {
		recorder.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("tarifario shutdown complete")
}

func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// auditTenants parses the comma-separated TARIFARIO_TENANTS list.
func auditTenants() []string {
	raw := os.Getenv("TARIFARIO_TENANTS")
	if raw == "" {
		return nil
	}

	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                 TARIFARIO")
	fmt.Println("     Slaughterhouse Tariff Calculation Engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /calculate                        - Calculate a tariff")
	fmt.Println("    GET  /calculations/{id}                - Get a stored result")
	fmt.Println("    GET  /rates                            - List rates")
	fmt.Println("    POST /rates                            - Create a rate")
	fmt.Println("    PUT  /rates/{id}/status                - Change rate status")
	fmt.Println("    POST /rates/validate                   - Dry-run rate authoring checks")
	fmt.Println("    POST /rates/test-formula               - Dry-run a formula")
	fmt.Println("    POST /rates/reload                     - Drop cached rate sets")
	fmt.Println("    GET  /reference-values/{code}          - Effective reference value")
	fmt.Println("    PUT  /reference-values/{code}          - Append a new version")
	fmt.Println("    GET  /reference-values/{code}/history  - Full version history")
	fmt.Println("    GET  /audit-events                     - Recent audit log")
	fmt.Println("    GET  /health                           - Health check")
	fmt.Println()
}
