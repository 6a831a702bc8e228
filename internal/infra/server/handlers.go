package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/telegram"
	"github.com/PocketPalCo/attribution-service/internal/core/tracking"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	cookieEndpoint    = "/api/click/cookies"
)

// ClickTracker is the click recorder and cookie completion handler.
type ClickTracker interface {
	RecordClick(ctx context.Context, req tracking.ClickRequest) (*tracking.ClickRecord, error)
	CompleteClickCookies(ctx context.Context, req tracking.CookieRequest) (int64, error)
}

// UpdateDispatcher routes decoded Telegram updates.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update) telegram.UpdateKind
}

type handlers struct {
	clicks        ClickTracker
	dispatcher    UpdateDispatcher // nil while the bot is disabled
	page          *redirectPage
	pixelID       string
	webhookSecret string
	processBudget time.Duration
	logger        *slog.Logger
}

// webhook acknowledges every delivery with 200 so Telegram never retries.
// Processing runs detached from the request with its own time budget.
func (h *handlers) webhook(c *fiber.Ctx) error {
	if h.webhookSecret != "" {
		got := c.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			h.logger.Warn("Webhook call with invalid secret token", "ip", c.IP())
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	if h.dispatcher == nil {
		return c.SendStatus(fiber.StatusOK)
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		h.logger.Warn("Malformed webhook update dropped",
			"component", "telegram_webhook",
			"error", err)
		return c.SendStatus(fiber.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), h.processBudget)
	defer cancel()

	kind := h.dispatcher.Dispatch(ctx, update)
	h.logger.Debug("Webhook update handled", "update_id", update.UpdateID, "kind", string(kind))

	return c.SendStatus(fiber.StatusOK)
}

// redirect records the click and forwards the visitor, either through the
// pixel page or with a plain 302 when ?direct=1.
func (h *handlers) redirect(c *fiber.Ctx) error {
	req := tracking.ClickRequest{
		WelcomeMessageID: c.Params("messageId"),
		TelegramUserID:   c.Params("userId"),
		FBClid:           optionalString(c.Query("fbclid")),
		UserAgent:        optionalString(c.Get(fiber.HeaderUserAgent)),
		IPAddress:        optionalString(c.IP()),
	}

	click, err := h.clicks.RecordClick(c.UserContext(), req)
	switch {
	case tracking.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid tracked link"})
	case tracking.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "link not found"})
	case err != nil:
		h.logger.Error("Failed to record click",
			"component", "http_handler",
			"welcome_message_id", req.WelcomeMessageID,
			"telegram_user_id", req.TelegramUserID,
			"error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	destination := tracking.RedirectURL(click)
	if c.QueryBool("direct") {
		return c.Redirect(destination, fiber.StatusFound)
	}

	fbclid := ""
	if click.FBClid != nil {
		fbclid = *click.FBClid
	}
	body, err := h.page.render(redirectPageData{
		PixelID:          h.pixelID,
		Destination:      destination,
		CookieEndpoint:   cookieEndpoint,
		WelcomeMessageID: click.WelcomeMessageID,
		TelegramUserID:   click.TelegramUserID,
		FBClid:           fbclid,
	})
	if err != nil {
		h.logger.Error("Failed to render redirect page", "error", err)
		return c.Redirect(destination, fiber.StatusFound)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("html", "utf-8")
	return c.Send(body)
}

// clickCookies merges cookies reported by the redirect page. Well-formed input
// always gets {"ok": true}, whether or not a click matched.
func (h *handlers) clickCookies(c *fiber.Ctx) error {
	var req tracking.CookieRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "malformed body"})
	}
	if _, err := h.clicks.CompleteClickCookies(c.UserContext(), req); err != nil {
		if errors.Is(err, tracking.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid body"})
		}
		h.logger.Error("Failed to complete click cookies",
			"component", "http_handler",
			"welcome_message_id", req.WelcomeMessageID,
			"telegram_user_id", req.TelegramUserID,
			"error", err)
	}

	return c.JSON(fiber.Map{"ok": true})
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
