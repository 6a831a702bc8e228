package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/PocketPalCo/attribution-service/internal/core/conversion"
	"github.com/PocketPalCo/attribution-service/internal/core/membership"
	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/PocketPalCo/attribution-service/internal/core/telegram"
	"github.com/PocketPalCo/attribution-service/internal/core/tracking"
	"github.com/PocketPalCo/attribution-service/internal/core/users"
	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	redisstore "github.com/PocketPalCo/attribution-service/internal/infra/redis"
	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	goredis "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"google.golang.org/grpc"
)

type Server struct {
	cfg             *config.Config
	app             *fiber.App
	db              postgres.DB
	cache           *goredis.Client
	handlers        *handlers
	traceProvider   *sdktrace.TracerProvider
	metricProvider  *metric.MeterProvider
	loggerProvider  *log.LoggerProvider
	telegramService telegram.TelegramService
	logger          *slog.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// New builds the telemetry providers, wires the attribution pipeline and the
// bot, and prepares the HTTP app. cache and loggerProvider may be nil.
func New(ctx context.Context, cfg *config.Config, dbConn *pgxpool.Pool, cache *goredis.Client, loggerProvider *log.LoggerProvider, logger *slog.Logger) (*Server, error) {
	traceExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jaeger exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OtlpEndpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.DeploymentEnvironmentNameKey.String(cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if err := telemetry.InitTelemetry(provider, dbConn); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := initHttpMetrics(provider); err != nil {
		return nil, fmt.Errorf("failed to initialize http metrics: %w", err)
	}

	instrumentedConn, err := telemetry.NewInstrumentedPool(provider, dbConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumented pool: %w", err)
	}

	h, telegramService, err := wire(cfg, instrumentedConn, cache, logger)
	if err != nil {
		return nil, err
	}

	serverCtx, cancel := context.WithCancel(ctx)

	return &Server{
		cfg:             cfg,
		app:             fiber.New(cfg.Fiber()),
		db:              instrumentedConn,
		cache:           cache,
		handlers:        h,
		traceProvider:   tp,
		metricProvider:  provider,
		loggerProvider:  loggerProvider,
		telegramService: telegramService,
		logger:          logger,
		ctx:             serverCtx,
		cancel:          cancel,
	}, nil
}

// wire assembles the domain services on top of the storage backends.
func wire(cfg *config.Config, db postgres.DB, cache *goredis.Client, logger *slog.Logger) (*handlers, telegram.TelegramService, error) {
	windows := cfg.GetWindows()
	conversionCfg := cfg.GetConversionConfig()

	messagesService := messages.NewService(db)
	usersService := users.NewService(db)
	clickStore := tracking.NewPostgresStore(db)
	trackingService := tracking.NewService(clickStore, messagesService, windows.Cookie, logger)

	var sender conversion.Sender
	if conversionCfg.Enabled() {
		sender = conversion.NewMetaClient(conversionCfg, logger)
	} else {
		logger.Warn("Meta pixel id or access token missing, conversions will only be logged")
		sender = conversion.NewLogSender(logger)
	}

	var (
		ledger  conversion.Ledger
		claimer telegram.UpdateClaimer
	)
	if cache != nil {
		store := redisstore.NewStore(cache)
		claimer = store
		if conversionCfg.Dedupe {
			ledger = store
		}
	} else if conversionCfg.Dedupe {
		logger.Warn("ATR_CONVERSION_DEDUPE needs redis, dedupe disabled")
	}

	correlator := conversion.NewCorrelator(clickStore, sender, ledger, conversion.CorrelatorConfig{
		ChannelID: cfg.TelegramChannelID,
		EventName: conversionCfg.EventName,
		Window:    windows.Conversion,
		Timeout:   conversionCfg.Timeout,
	}, logger)
	machine := membership.NewMachine(cfg.TelegramChannelID, usersService, correlator, logger)

	telegramService, err := telegram.NewTelegramService(cfg, telegram.Dependencies{
		Users:   usersService,
		Welcome: messagesService,
		Members: machine,
		Claimer: claimer,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telegram service: %w", err)
	}

	page, err := newRedirectPage()
	if err != nil {
		return nil, nil, err
	}

	h := &handlers{
		clicks:        trackingService,
		page:          page,
		pixelID:       conversionCfg.PixelID,
		webhookSecret: cfg.TelegramWebhookSecret,
		processBudget: time.Duration(cfg.WebhookProcessTime) * time.Second,
		logger:        logger,
	}
	if d := telegramService.Dispatcher(); d != nil {
		h.dispatcher = d
	}

	return h, telegramService, nil
}

func (s *Server) Start() {
	initGlobalMiddlewares(s.app, s.cfg, s.logger)
	registerHttpRoutes(s.app, s.cfg, s.db, s.handlers)

	if s.telegramService.IsEnabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.telegramService.Start(s.ctx); err != nil {
				s.logger.Error("Telegram service error", slog.String("error", err.Error()))
			}
		}()
	}

	s.logger.Info("Starting HTTP server", slog.String("address", s.cfg.ServerAddress))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.app.Listen(s.cfg.ServerAddress); err != nil {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) Shutdown() {
	s.logger.Info("Shutting down server")

	s.cancel()
	s.telegramService.Stop()

	if err := s.app.ShutdownWithTimeout(15 * time.Second); err != nil {
		s.logger.Error("Error shutting down HTTP server", slog.String("error", err.Error()))
	}

	s.wg.Wait()

	if err := s.traceProvider.Shutdown(context.Background()); err != nil {
		s.logger.Error("Error shutting down trace provider", slog.String("error", err.Error()))
	}

	if err := s.metricProvider.Shutdown(context.Background()); err != nil {
		s.logger.Error("Error shutting down metric provider", slog.String("error", err.Error()))
	}

	if s.loggerProvider != nil {
		if err := s.loggerProvider.Shutdown(context.Background()); err != nil {
			s.logger.Error("Error shutting down log provider", slog.String("error", err.Error()))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Error closing redis client", slog.String("error", err.Error()))
		}
	}

	s.db.Close()

	s.logger.Info("Server shut down successfully")
}
