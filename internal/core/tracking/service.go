package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("tracking-service")

// DefaultCookieWindow is how long after a click cookie data is still merged into it.
const DefaultCookieWindow = 5 * time.Minute

// MessageLookup resolves the welcome message a tracked link belongs to.
type MessageLookup interface {
	GetByID(ctx context.Context, id string) (*messages.WelcomeMessage, error)
}

type Service struct {
	store        Store
	messages     MessageLookup
	validate     *validator.Validate
	cookieWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(store Store, lookup MessageLookup, cookieWindow time.Duration, logger *slog.Logger) *Service {
	if cookieWindow <= 0 {
		cookieWindow = DefaultCookieWindow
	}

	return &Service{
		store:        store,
		messages:     lookup,
		validate:     validator.New(),
		cookieWindow: cookieWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source, tests use it to move through windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RecordClick stores a new click record for a redirect visit. Every visit is a
// new row, repeat visits by the same user included.
func (s *Service) RecordClick(ctx context.Context, req ClickRequest) (*ClickRecord, error) {
	ctx, span := tracer.Start(ctx, "tracking.RecordClick")
	defer span.End()

	req.WelcomeMessageID = strings.TrimSpace(req.WelcomeMessageID)
	req.TelegramUserID = strings.TrimSpace(req.TelegramUserID)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	message, err := s.messages.GetByID(ctx, req.WelcomeMessageID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if message == nil || !message.HasButton() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.WelcomeMessageID)
	}

	click := &ClickRecord{
		ID:               uuid.New(),
		WelcomeMessageID: req.WelcomeMessageID,
		TelegramUserID:   req.TelegramUserID,
		OriginalURL:      message.ButtonURL,
		FBClid:           nonEmpty(req.FBClid),
		UserAgent:        nonEmpty(req.UserAgent),
		IPAddress:        nonEmpty(req.IPAddress),
		ClickedAt:        s.now().UTC(),
	}

	if err := s.store.InsertClick(ctx, click); err != nil {
		span.RecordError(err)
		return nil, err
	}

	telemetry.ClicksRecordedTotal.Add(ctx, 1,
		api.WithAttributes(attribute.Bool("has_fbclid", click.FBClid != nil)))

	attrs := []any{
		"component", "click_recorder",
		"welcome_message_id", click.WelcomeMessageID,
		"destination", click.OriginalURL,
		"telegram_user_id", click.TelegramUserID,
	}
	if click.FBClid != nil {
		attrs = append(attrs, "fbclid", *click.FBClid)
	}
	s.logger.Info("Tracked link visited", attrs...)

	return click, nil
}

// RedirectURL is the original URL with fbclid appended when the click carried one.
func RedirectURL(click *ClickRecord) string {
	if click.FBClid == nil {
		return click.OriginalURL
	}

	u, err := url.Parse(click.OriginalURL)
	if err != nil {
		return click.OriginalURL
	}

	q := u.Query()
	q.Set("fbclid", *click.FBClid)
	u.RawQuery = q.Encode()
	return u.String()
}

// CompleteClickCookies merges late-arriving cookies into every click of the
// (message, user) pair inside the cookie window. Older clicks are left alone
// and zero matches is not an error.
func (s *Service) CompleteClickCookies(ctx context.Context, req CookieRequest) (int64, error) {
	ctx, span := tracer.Start(ctx, "tracking.CompleteClickCookies")
	defer span.End()

	req.WelcomeMessageID = strings.TrimSpace(req.WelcomeMessageID)
	req.TelegramUserID = strings.TrimSpace(req.TelegramUserID)
	if err := s.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fbc, fbp := nonEmpty(req.FBC), nonEmpty(req.FBP)
	if fbc == nil && fbp == nil {
		s.logger.Debug("Cookie completion without cookies",
			"component", "cookie_completion",
			"welcome_message_id", req.WelcomeMessageID,
			"telegram_user_id", req.TelegramUserID)
		return 0, nil
	}

	since := s.now().UTC().Add(-s.cookieWindow)
	updated, err := s.store.UpdateCookies(ctx, req.WelcomeMessageID, req.TelegramUserID, fbc, fbp, since)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	result := "matched"
	if updated == 0 {
		result = "no_match"
	}
	telemetry.CookieCompletionsTotal.Add(ctx, 1, api.WithAttributes(attribute.String("result", result)))
	telemetry.CookieRecordsUpdatedTotal.Add(ctx, updated)

	s.logger.Info("Click cookies completed",
		"component", "cookie_completion",
		"welcome_message_id", req.WelcomeMessageID,
		"telegram_user_id", req.TelegramUserID,
		"has_fbc", fbc != nil,
		"has_fbp", fbp != nil,
		"records_updated", updated)

	return updated, nil
}

// GetClick reads a single record back.
func (s *Service) GetClick(ctx context.Context, id uuid.UUID) (*ClickRecord, error) {
	return s.store.GetClick(ctx, id)
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
