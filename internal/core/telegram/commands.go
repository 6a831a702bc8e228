package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/PocketPalCo/attribution-service/internal/core/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Command represents a bot command handler
type Command interface {
	// Name returns the command name (without /)
	Name() string
	Handle(ctx context.Context, message *tgbotapi.Message, user *TelegramUser) error
}

// TemplateRenderer interface defines the contract for template rendering
type TemplateRenderer interface {
	RenderTemplate(templateName, locale string, data interface{}) (string, error)
	RenderMessage(messageName, locale string) string
}

// UserRegistrar upserts bot users.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, req users.RegistrationRequest) (*users.User, error)
}

// WelcomeSource provides the welcome message sent on /start.
type WelcomeSource interface {
	GetActive(ctx context.Context) (*messages.WelcomeMessage, error)
}

// CommandRegistry manages bot commands
type CommandRegistry struct {
	commands map[string]Command
}

func NewCommandRegistry(cmds ...Command) *CommandRegistry {
	r := &CommandRegistry{commands: make(map[string]Command)}
	for _, cmd := range cmds {
		r.Register(cmd)
	}
	return r
}

func (r *CommandRegistry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

func (r *CommandRegistry) Get(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

// TrackedLink builds the redirect url that records a click before sending
// the user to the welcome message's button url.
func TrackedLink(publicBaseURL, welcomeMessageID, telegramUserID string) (string, error) {
	link, err := url.JoinPath(strings.TrimRight(publicBaseURL, "/"), "r", welcomeMessageID, telegramUserID)
	if err != nil {
		return "", fmt.Errorf("failed to build tracked link: %w", err)
	}
	return link, nil
}

// StartCommand registers the user and sends the active welcome message.
type StartCommand struct {
	users         UserRegistrar
	welcome       WelcomeSource
	messenger     Messenger
	templates     TemplateRenderer
	publicBaseURL string
	logger        *slog.Logger
}

func NewStartCommand(userRegistrar UserRegistrar, welcome WelcomeSource, messenger Messenger, templates TemplateRenderer, publicBaseURL string, logger *slog.Logger) *StartCommand {
	return &StartCommand{
		users:         userRegistrar,
		welcome:       welcome,
		messenger:     messenger,
		templates:     templates,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

func (c *StartCommand) Name() string {
	return "start"
}

func (c *StartCommand) Handle(ctx context.Context, message *tgbotapi.Message, user *TelegramUser) error {
	chatID := message.Chat.ID
	locale := user.Locale()

	if _, err := c.users.RegisterUser(ctx, user.Registration()); err != nil {
		c.logger.Error("Failed to register user", "error", err, "telegram_user_id", user.ID)
		_ = c.messenger.SendHTML(chatID, c.templates.RenderMessage("error_internal", locale))
		return err
	}

	welcome, err := c.welcome.GetActive(ctx)
	if err != nil {
		c.logger.Error("Failed to load welcome message", "error", err)
		_ = c.messenger.SendHTML(chatID, c.templates.RenderMessage("error_internal", locale))
		return err
	}

	if welcome == nil {
		text, err := c.templates.RenderTemplate("start", locale, StartTemplateData{FirstName: user.FirstName})
		if err != nil {
			c.logger.Error("Failed to render start template", "error", err)
			return err
		}
		return c.messenger.SendHTML(chatID, text)
	}

	if !welcome.HasButton() {
		return c.messenger.SendWelcome(chatID, welcome.Text, "", "")
	}

	link, err := TrackedLink(c.publicBaseURL, welcome.ID.String(), user.StringID())
	if err != nil {
		return err
	}

	c.logger.Info("Sending welcome message",
		"component", "telegram_bot",
		"telegram_user_id", user.ID,
		"welcome_message_id", welcome.ID,
		"tracked_link", link)

	return c.messenger.SendWelcome(chatID, welcome.Text, welcome.ButtonText, link)
}

// HelpCommand lists the available commands.
type HelpCommand struct {
	messenger Messenger
	templates TemplateRenderer
}

func NewHelpCommand(messenger Messenger, templates TemplateRenderer) *HelpCommand {
	return &HelpCommand{messenger: messenger, templates: templates}
}

func (c *HelpCommand) Name() string {
	return "help"
}

func (c *HelpCommand) Handle(_ context.Context, message *tgbotapi.Message, user *TelegramUser) error {
	text, err := c.templates.RenderTemplate("help", user.Locale(), nil)
	if err != nil {
		return err
	}
	return c.messenger.SendHTML(message.Chat.ID, text)
}
