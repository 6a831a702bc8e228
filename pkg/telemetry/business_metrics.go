package telemetry

import (
	"log/slog"

	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Business metrics for application-level monitoring. They start out as no-op
// instruments so packages can record unconditionally, InitBusinessMetrics swaps
// in real ones.
var (
	// Telegram webhook metrics
	WebhookUpdatesTotal   api.Int64Counter
	TelegramMessagesTotal api.Int64Counter
	TelegramErrorsTotal   api.Int64Counter

	// Attribution pipeline metrics
	ClicksRecordedTotal        api.Int64Counter
	CookieCompletionsTotal     api.Int64Counter
	CookieRecordsUpdatedTotal  api.Int64Counter
	MembershipTransitionsTotal api.Int64Counter
	ConversionsTotal           api.Int64Counter
	ConversionSubmitDuration   api.Float64Histogram

	// Error tracking
	ApplicationErrorsTotal api.Int64Counter
	DatabaseErrorsTotal    api.Int64Counter
)

func init() {
	if err := InitBusinessMetrics(noop.NewMeterProvider()); err != nil {
		panic(err)
	}
}

// InitBusinessMetrics initializes all business-level metrics
func InitBusinessMetrics(provider api.MeterProvider) error {
	meter := provider.Meter("business")

	var err error

	WebhookUpdatesTotal, err = meter.Int64Counter("telegram.webhook.updates.total",
		api.WithDescription("Total Telegram webhook updates received by kind"))
	if err != nil {
		return err
	}

	TelegramMessagesTotal, err = meter.Int64Counter("telegram.messages.total",
		api.WithDescription("Total Telegram messages processed by type"))
	if err != nil {
		return err
	}

	TelegramErrorsTotal, err = meter.Int64Counter("telegram.errors.total",
		api.WithDescription("Total Telegram bot errors by type"))
	if err != nil {
		return err
	}

	ClicksRecordedTotal, err = meter.Int64Counter("attribution.clicks.recorded.total",
		api.WithDescription("Total tracked link visits recorded"))
	if err != nil {
		return err
	}

	CookieCompletionsTotal, err = meter.Int64Counter("attribution.cookies.completions.total",
		api.WithDescription("Total cookie completion requests by result (matched, no_match)"))
	if err != nil {
		return err
	}

	CookieRecordsUpdatedTotal, err = meter.Int64Counter("attribution.cookies.records_updated.total",
		api.WithDescription("Total click records updated with cookie data"))
	if err != nil {
		return err
	}

	MembershipTransitionsTotal, err = meter.Int64Counter("attribution.membership.transitions.total",
		api.WithDescription("Total channel membership updates by transition kind"))
	if err != nil {
		return err
	}

	ConversionsTotal, err = meter.Int64Counter("attribution.conversions.total",
		api.WithDescription("Total conversion attempts by outcome and reason"))
	if err != nil {
		return err
	}

	ConversionSubmitDuration, err = meter.Float64Histogram("attribution.conversions.submit_duration_ms",
		api.WithDescription("Duration of Conversions API submissions in milliseconds"))
	if err != nil {
		return err
	}

	ApplicationErrorsTotal, err = meter.Int64Counter("application.errors.total",
		api.WithDescription("Total application errors by component and type"))
	if err != nil {
		return err
	}

	DatabaseErrorsTotal, err = meter.Int64Counter("database.errors.total",
		api.WithDescription("Total database errors by operation"))
	if err != nil {
		return err
	}

	slog.Debug("Business metrics initialized")
	return nil
}
