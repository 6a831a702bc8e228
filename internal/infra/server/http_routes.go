package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogfiber "github.com/samber/slog-fiber"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

var (
	httpRequestsCounter  api.Int64Counter
	httpRequestHistogram api.Float64Histogram
)

func initHttpMetrics(provider api.MeterProvider) error {
	meter := provider.Meter("http")

	var err error
	httpRequestsCounter, err = meter.Int64Counter("http_requests_total",
		api.WithDescription("Total number of HTTP requests."))
	if err != nil {
		return err
	}

	httpRequestHistogram, err = meter.Float64Histogram("http_request_duration_ms",
		api.WithDescription("Duration of HTTP requests in milliseconds."))
	return err
}

func initGlobalMiddlewares(app *fiber.App, cfg *config.Config, logger *slog.Logger) {
	app.Use(
		compress.New(compress.Config{
			Level: compress.LevelDefault,
		}),

		slogfiber.NewWithFilters(logger, slogfiber.IgnorePath("/health")),

		cors.New(cors.Config{
			AllowOrigins: "*",
			AllowHeaders: "Origin, Content-Type, Accept",
			AllowMethods: "GET, POST, OPTIONS",
		}),

		favicon.New(),
	)

	app.Use(otelfiber.Middleware())
}

// publicLimiter throttles the endpoints reachable from browsers. The webhook is
// left unthrottled, Telegram delivers bursts from a handful of addresses.
func publicLimiter(cfg *config.Config) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               cfg.RateLimitMax,
		Expiration:        time.Duration(cfg.RateLimitWindow) * time.Second,
		LimiterMiddleware: limiter.SlidingWindow{},
	})
}

func registerHttpRoutes(app *fiber.App, cfg *config.Config, db postgres.DB, h *handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status = "degraded"
			}
		}
		return c.JSON(fiber.Map{"status": status, "timestamp": time.Now().Unix()})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/telegram/webhook", withMetrics(h.webhook))

	app.Get("/r/:messageId/:userId", publicLimiter(cfg), withMetrics(h.redirect))

	apiRoutes := app.Group("/api", publicLimiter(cfg))
	apiRoutes.Post("/click/cookies", withMetrics(h.clickCookies))
}

func withMetrics(handler fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := handler(c)

		durationMs := float64(time.Since(start).Milliseconds())
		attrs := api.WithAttributes(
			attribute.String("method", c.Method()),
			attribute.String("path", c.Route().Path),
			attribute.Int("status_code", c.Response().StatusCode()),
		)

		if httpRequestsCounter != nil {
			httpRequestsCounter.Add(c.UserContext(), 1, attrs)
		}

		if httpRequestHistogram != nil {
			httpRequestHistogram.Record(c.UserContext(), durationMs, attrs)
		}

		return err
	}
}
