package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

// Messenger sends bot messages.
type Messenger interface {
	SendHTML(chatID int64, text string) error
	SendWelcome(chatID int64, text, buttonText, url string) error
}

// BotMessenger sends through a single shared bot client.
type BotMessenger struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewBotMessenger(bot *tgbotapi.BotAPI, logger *slog.Logger) *BotMessenger {
	return &BotMessenger{bot: bot, logger: logger}
}

// SendHTML sends a message with HTML formatting
func (m *BotMessenger) SendHTML(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return m.send(msg, "html")
}

// SendWelcome sends text with a single inline URL button. Without a button
// text or url the message goes out as plain HTML.
func (m *BotMessenger) SendWelcome(chatID int64, text, buttonText, url string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if buttonText != "" && url != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(buttonText, url)),
		)
	}
	return m.send(msg, "welcome")
}

func (m *BotMessenger) send(msg tgbotapi.MessageConfig, kind string) error {
	ctx := context.Background()
	if _, err := m.bot.Send(msg); err != nil {
		telemetry.TelegramErrorsTotal.Add(ctx, 1, api.WithAttributes(attribute.String("operation", "send_"+kind)))
		m.logger.Error("Failed to send message", "error", err, "chat_id", msg.ChatID, "kind", kind)
		return fmt.Errorf("failed to send %s message to %d: %w", kind, msg.ChatID, err)
	}
	telemetry.TelegramMessagesTotal.Add(ctx, 1, api.WithAttributes(attribute.String("kind", kind)))
	return nil
}

// AllowedUpdates lists the update types the bot subscribes to.
var AllowedUpdates = []string{"message", "chat_member"}

// RegisterWebhook points Telegram at webhookURL. chat_member updates are only
// delivered when explicitly listed in allowed_updates.
func RegisterWebhook(bot *tgbotapi.BotAPI, webhookURL, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = webhookURL
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", AllowedUpdates); err != nil {
		return fmt.Errorf("failed to encode allowed updates: %w", err)
	}

	resp, err := bot.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("failed to set webhook: %s", strings.TrimSpace(resp.Description))
	}
	return nil
}
