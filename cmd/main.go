package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	"github.com/PocketPalCo/attribution-service/internal/infra/redis"
	"github.com/PocketPalCo/attribution-service/internal/infra/server"
	"github.com/PocketPalCo/attribution-service/pkg/logger"
	goredis "github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/sdk/log"
)

func main() {
	mainContext, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger := logger.NewLogger(&cfg)
	var loggerProvider *log.LoggerProvider
	if cfg.LogExport {
		observable, provider, err := logger.NewObservableLogger(&cfg)
		if err != nil {
			appLogger.Error("failed to initialize otlp logger, using local logger", slog.String("error", err.Error()))
		} else {
			appLogger, loggerProvider = observable, provider
		}
	}
	slog.SetDefault(appLogger)

	conn, err := postgres.Init(mainContext, cfg)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := postgres.Migrate(mainContext, conn, appLogger); err != nil {
		slog.Error("failed to apply migrations", slog.String("error", err.Error()))
		conn.Close()
		os.Exit(1)
	}

	var cache *goredis.Client
	if cfg.RedisHost != "" {
		cache, err = redis.Init(mainContext, &cfg, appLogger)
		if err != nil {
			slog.Error("failed to connect to redis", slog.String("error", err.Error()))
			conn.Close()
			os.Exit(1)
		}
	} else {
		slog.Warn("ATR_REDIS_HOST empty, update dedupe and conversion ledger disabled")
	}

	srv, err := server.New(mainContext, &cfg, conn, cache, loggerProvider, appLogger)
	if err != nil {
		slog.Error("failed to create server", slog.String("error", err.Error()))
		conn.Close()
		os.Exit(1)
	}

	srv.Start()

	<-mainContext.Done()
	slog.Info("Shutdown signal received")

	srv.Shutdown()
}
