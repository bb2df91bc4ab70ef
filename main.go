package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/cache"
	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/metrics"
	"deriv-trading-bot/internal/notification"
	"deriv-trading-bot/internal/risk"
	"deriv-trading-bot/internal/sentinel"
	"deriv-trading-bot/internal/session"
	"deriv-trading-bot/internal/settlement"
	"deriv-trading-bot/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("configuration error", "error", err.Error())
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "engine",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	logging.SetDefault(logger)
	logBuffer := logging.NewBuffer(logging.DefaultBufferSize)
	logger = logger.WithBuffer(logBuffer)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("database connection failed", "error", err.Error())
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations failed", "error", err.Error())
	}
	repo := database.NewRepository(db)

	redisCache := cache.New(cfg.RedisConfig, logger)
	defer redisCache.Close()

	tokenStore, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("vault client failed", "error", err.Error())
	}
	if err := tokenStore.Health(ctx); err != nil {
		logger.Warn("vault health check failed", "error", err.Error())
	}

	bus := events.NewBus()
	notifier := notification.NewManager(repo, bus, logger)
	gate := sentinel.New(cfg.SentinelConfig, zlog)
	breaker := risk.NewBreaker(cfg.CircuitBreakerConfig, repo, logger)
	reconciler := settlement.NewReconciler(repo, redisCache, cfg.EngineConfig.SyncCooldown, zlog)

	registry := session.NewRegistry(cfg, repo, redisCache, tokenStore, gate, breaker, reconciler, notifier, bus, logger)

	// remember who was trading before the restart, then clear their flags
	resumeUsers, err := repo.ListRunningUsers(ctx)
	if err != nil {
		logger.Warn("could not list previously running sessions", "error", err.Error())
	}
	if err := registry.SweepStaleSessions(ctx); err != nil {
		logger.Warn("stale session sweep failed", "error", err.Error())
	}

	if cfg.MetricsConfig.Enabled {
		go func() {
			if err := metrics.Serve(cfg.MetricsConfig.Addr); err != nil {
				logger.Error("metrics endpoint failed", "error", err.Error())
			}
		}()
		logger.Info("metrics endpoint listening", "addr", cfg.MetricsConfig.Addr)
	}

	bootUsers := make(map[string]bool)
	for _, userID := range resumeUsers {
		bootUsers[userID] = true
	}
	for _, userID := range autoStartUsers() {
		bootUsers[userID] = true
	}
	for userID := range bootUsers {
		if err := registry.StartSession(ctx, userID); err != nil {
			logger.WithUser(userID).Error("session autostart failed", "error", err.Error())
		}
	}

	logger.Info("engine ready", "sessions", registry.Count())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	registry.StopAll("engine shutdown")
	cancel()
	time.Sleep(time.Second)
}

// autoStartUsers lists the user ids to bring up at boot, from the
// AUTO_START_USERS environment variable (comma separated).
func autoStartUsers() []string {
	raw := os.Getenv("AUTO_START_USERS")
	if raw == "" {
		return nil
	}
	var users []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			users = append(users, id)
		}
	}
	return users
}
