package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/routewatch/routewatch/internal/firehose"
	"github.com/routewatch/routewatch/internal/push"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/server"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/pkg/auth"
	"github.com/routewatch/routewatch/pkg/config"
	"github.com/routewatch/routewatch/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.URL == "" {
		logger.Error("database.url is required")
		os.Exit(1)
	}
	pg, err := store.Open(cfg.Database.URL, logger)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		logger.Error("Database unreachable", slog.Any("error", err))
		os.Exit(1)
	}

	var registryStore registry.Store
	switch cfg.Registry.Store {
	case "redis":
		redisStore := registry.NewRedisStore(registry.RedisStoreConfig{
			Addr:     cfg.Registry.Redis.Addr,
			Password: cfg.Registry.Redis.Password,
			DB:       cfg.Registry.Redis.DB,
			Expiry:   cfg.Registry.Expiry,
		}, logger)
		defer redisStore.Close()
		registryStore = redisStore
	default:
		registryStore = registry.NewInMemoryStore()
	}

	var fh *firehose.Publisher
	if cfg.Firehose.URL != "" {
		fh, err = firehose.NewPublisher(cfg.Firehose.URL, logger)
		if err != nil {
			logger.Error("Failed to connect firehose", slog.Any("error", err))
			os.Exit(1)
		}
		defer fh.Close()
	}

	collab := server.Collaborators{
		Verifier:      auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret),
		Stops:         pg,
		Subscriptions: pg,
		Locations:     pg,
		Notifier:      push.NewFCMClient(cfg.Push.ServerKey, cfg.Push.Endpoint, logger),
		Firehose:      fh,
		RegistryStore: registryStore,
	}

	app := server.NewApp(logger, ctx, cfg, collab)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
