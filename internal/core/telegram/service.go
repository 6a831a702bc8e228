package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PocketPalCo/attribution-service/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramService interface defines the contract for Telegram bot management
type TelegramService interface {
	Start(ctx context.Context) error
	Stop()
	IsEnabled() bool
	Dispatcher() *Dispatcher
}

// Dependencies are the domain services the bot routes updates to.
type Dependencies struct {
	Users   UserRegistrar
	Welcome WelcomeSource
	Members MembershipApplier
	Claimer UpdateClaimer
}

// Service implements TelegramService interface
type Service struct {
	cfg        *config.Config
	bot        *tgbotapi.BotAPI
	dispatcher *Dispatcher
	enabled    bool
	logger     *slog.Logger
}

// NewTelegramService creates the bot client once and wires the dispatcher.
func NewTelegramService(cfg *config.Config, deps Dependencies, logger *slog.Logger) (TelegramService, error) {
	if cfg.TelegramBotToken == "" {
		logger.Info("Telegram bot disabled - no token provided")
		return &Service{
			cfg:     cfg,
			enabled: false,
			logger:  logger,
		}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = cfg.TelegramDebug

	templates, err := NewTemplateManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}

	messenger := NewBotMessenger(bot, logger)
	commands := NewCommandRegistry(
		NewStartCommand(deps.Users, deps.Welcome, messenger, templates, cfg.PublicBaseURL, logger),
		NewHelpCommand(messenger, templates),
	)

	logger.Info("Telegram bot initialized",
		"bot_username", bot.Self.UserName,
		"channel_id", cfg.TelegramChannelID,
		"debug_mode", cfg.TelegramDebug,
		"component", "telegram_service")

	return &Service{
		cfg:        cfg,
		bot:        bot,
		dispatcher: NewDispatcher(commands, deps.Members, deps.Claimer, messenger, templates, logger),
		enabled:    true,
		logger:     logger,
	}, nil
}

// Start registers the webhook when a public webhook url is configured.
func (s *Service) Start(_ context.Context) error {
	if !s.enabled {
		return nil
	}

	if s.cfg.TelegramWebhookURL == "" {
		s.logger.Warn("Telegram webhook url not set, expecting it to be registered externally")
		return nil
	}

	if err := RegisterWebhook(s.bot, s.cfg.TelegramWebhookURL, s.cfg.TelegramWebhookSecret); err != nil {
		return err
	}

	s.logger.Info("Telegram webhook registered",
		"component", "telegram_service",
		"url", s.cfg.TelegramWebhookURL,
		"allowed_updates", AllowedUpdates)
	return nil
}

// Stop is a no-op: updates arrive through the HTTP server, which owns shutdown.
func (s *Service) Stop() {
	if s.enabled {
		s.logger.Info("Telegram service stopped")
	}
}

// IsEnabled returns whether the Telegram service is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Dispatcher returns nil when the bot is disabled.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}
