package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/logging"
	"github.com/veilgate/gateway/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to the policy YAML document")
	addr := flag.String("addr", ":8080", "Listen address")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("veilgate %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, logCloser, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if logCloser != nil {
		defer logCloser.Close()
	}
	logging.SetGlobal(logger)

	settings, err := config.Load(*configPath)
	if err != nil {
		logging.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logging.Info("starting veilgate",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("aggregations", len(settings.Policy.Aggregations)),
		zap.Int("inspection_rules", len(settings.Policy.InspectionRules)),
	)

	store := newCacheStore(settings)
	auditor := audit.New(logger)

	srv, err := server.New(settings, store, auditor)
	if err != nil {
		logging.Error("failed to build server", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := srv.Bootstrap(ctx, settings.Policy.Cartographer); err != nil {
		logging.Error("failed to bootstrap server", zap.Error(err))
		os.Exit(1)
	}
	defer srv.Shutdown()

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down veilgate")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	logging.Info("listening", zap.String("addr", *addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("veilgate stopped")
}

// newCacheStore picks the Redis-backed shared store when a URL is
// configured, falling back to an in-process store for single-instance
// deployments (anomaly counters then only see traffic handled by this
// process, and the behavioral profiler does nothing).
func newCacheStore(settings *config.Settings) cache.Store {
	if settings.RedisURL == "" {
		logging.Warn("REDIS_URL not set: anomaly counters and profiler state will not be shared across instances")
		return cache.NewMemoryStore()
	}

	opts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		logging.Error("invalid REDIS_URL, falling back to in-process cache", zap.Error(err))
		return cache.NewMemoryStore()
	}

	client := redis.NewClient(opts)
	return cache.NewRedisStore(client, "veilgate:")
}
