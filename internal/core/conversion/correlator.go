package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/tracking"
	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("conversion-correlator")

// DefaultWindow is the maximum age of a click still credited for a join.
const DefaultWindow = 2 * time.Minute

const (
	ReasonNoRecentClick     = "no recent click"
	ReasonIncompleteCookies = "incomplete cookie data"
	ReasonAlreadyConverted  = "already converted today"
)

// Outcome is the result of a conversion attempt. Reason is set when skipped.
type Outcome struct {
	Fired  bool
	Reason string
}

func Fired() Outcome                { return Outcome{Fired: true} }
func Skipped(reason string) Outcome { return Outcome{Reason: reason} }

func (o Outcome) String() string {
	if o.Fired {
		return "fired"
	}
	return "skipped: " + o.Reason
}

// ClickFinder looks up the freshest click of a user.
type ClickFinder interface {
	LatestClickSince(ctx context.Context, telegramUserID string, since time.Time) (*tracking.ClickRecord, error)
}

// Ledger remembers users already converted on a given day. Claim returns
// false when the (user, day) pair was claimed before.
type Ledger interface {
	Claim(ctx context.Context, telegramUserID string, day time.Time) (bool, error)
}

type CorrelatorConfig struct {
	ChannelID int64
	EventName string
	Window    time.Duration
	Timeout   time.Duration
}

type Correlator struct {
	clicks ClickFinder
	sender Sender
	ledger Ledger // nil disables dedupe
	cfg    CorrelatorConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewCorrelator(clicks ClickFinder, sender Sender, ledger Ledger, cfg CorrelatorConfig, logger *slog.Logger) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.EventName == "" {
		cfg.EventName = "Subscribe"
	}

	return &Correlator{
		clicks: clicks,
		sender: sender,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (c *Correlator) SetClock(now func() time.Time) {
	c.now = now
}

// TryFireConversion credits a channel join to the user's freshest click and
// submits at most one event for it. A submission failure is logged and the
// attempt still counts as fired.
func (c *Correlator) TryFireConversion(ctx context.Context, telegramUserID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "conversion.TryFireConversion")
	defer span.End()

	joinedAt := c.now().UTC()
	click, err := c.clicks.LatestClickSince(ctx, telegramUserID, joinedAt.Add(-c.cfg.Window))
	if err != nil {
		span.RecordError(err)
		c.record(ctx, "error", "store")
		return Outcome{}, fmt.Errorf("failed to look up recent click: %w", err)
	}

	if click == nil {
		return c.skip(ctx, telegramUserID, ReasonNoRecentClick), nil
	}
	if !click.HasCookies() {
		return c.skip(ctx, telegramUserID, ReasonIncompleteCookies, "click_id", click.ID.String()), nil
	}

	if c.ledger != nil {
		first, err := c.ledger.Claim(ctx, telegramUserID, joinedAt)
		if err != nil {
			// dedupe is best effort
			c.logger.Error("Conversion ledger unavailable, firing without dedupe",
				"component", "conversion_correlator",
				"telegram_user_id", telegramUserID,
				"error", err)
		} else if !first {
			return c.skip(ctx, telegramUserID, ReasonAlreadyConverted, "click_id", click.ID.String()), nil
		}
	}

	event := c.buildEvent(click, joinedAt)
	c.submit(ctx, event, telegramUserID)
	c.record(ctx, "fired", "")

	return Fired(), nil
}

func (c *Correlator) buildEvent(click *tracking.ClickRecord, joinedAt time.Time) Event {
	event := Event{
		EventName:      c.cfg.EventName,
		EventTime:      joinedAt.Unix(),
		EventID:        "channel_join:" + click.ID.String(),
		ActionSource:   actionSourceWebsite,
		EventSourceURL: click.OriginalURL,
		UserData: UserData{
			FBC:        *click.FBC,
			FBP:        *click.FBP,
			ExternalID: []string{hashIdentifier(click.TelegramUserID)},
		},
		CustomData: CustomData{
			ContentName:      "telegram_channel_join",
			ChannelID:        strconv.FormatInt(c.cfg.ChannelID, 10),
			TelegramUserID:   click.TelegramUserID,
			WelcomeMessageID: click.WelcomeMessageID,
			ClickID:          click.ID.String(),
		},
	}
	if click.UserAgent != nil {
		event.UserData.ClientUserAgent = *click.UserAgent
	}
	if click.IPAddress != nil {
		event.UserData.ClientIPAddress = *click.IPAddress
	}
	return event
}

// submit runs detached from the caller's cancellation but bounded by the timeout.
func (c *Correlator) submit(ctx context.Context, event Event, telegramUserID string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := c.sender.Send(sendCtx, event)
	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.ConversionSubmitDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		api.WithAttributes(attribute.String("status", status)))

	if err != nil {
		telemetry.ApplicationErrorsTotal.Add(ctx, 1, api.WithAttributes(
			attribute.String("component", "conversion_correlator"),
			attribute.String("type", "external_api")))
		c.logger.Error("Conversion submission failed",
			"component", "conversion_correlator",
			"telegram_user_id", telegramUserID,
			"event_id", event.EventID,
			"error", err)
		return
	}

	c.logger.Info("Conversion fired",
		"component", "conversion_correlator",
		"telegram_user_id", telegramUserID,
		"event_id", event.EventID,
		"event_name", event.EventName)
}

func (c *Correlator) skip(ctx context.Context, telegramUserID, reason string, attrs ...any) Outcome {
	c.record(ctx, "skipped", reason)
	c.logger.Info("Conversion skipped",
		append([]any{
			"component", "conversion_correlator",
			"telegram_user_id", telegramUserID,
			"reason", reason,
		}, attrs...)...)
	return Skipped(reason)
}

func (c *Correlator) record(ctx context.Context, outcome, reason string) {
	telemetry.ConversionsTotal.Add(ctx, 1, api.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason)))
}
