package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/PocketPalCo/attribution-service/internal/core/membership"
	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("telegram-dispatcher")

// UpdateKind tells how an update was routed.
type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateChatMember UpdateKind = "chat_member"
	UpdateIgnored    UpdateKind = "ignored"
	UpdateDuplicate  UpdateKind = "duplicate"
	UpdateFailed     UpdateKind = "failed"
)

// MembershipApplier consumes chat_member changes.
type MembershipApplier interface {
	ApplyMembershipUpdate(ctx context.Context, upd membership.Update) (membership.TransitionKind, error)
}

// UpdateClaimer remembers processed update ids. ClaimUpdate returns false for
// an update seen before.
type UpdateClaimer interface {
	ClaimUpdate(ctx context.Context, updateID int) (bool, error)
}

type Dispatcher struct {
	commands  *CommandRegistry
	members   MembershipApplier
	claimer   UpdateClaimer // optional
	messenger Messenger
	templates TemplateRenderer
	logger    *slog.Logger
}

func NewDispatcher(commands *CommandRegistry, members MembershipApplier, claimer UpdateClaimer, messenger Messenger, templates TemplateRenderer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		commands:  commands,
		members:   members,
		claimer:   claimer,
		messenger: messenger,
		templates: templates,
		logger:    logger,
	}
}

// Dispatch routes one webhook update. It never panics and never returns an
// error: failures are logged and the update counts as handled.
func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) (kind UpdateKind) {
	ctx, span := tracer.Start(ctx, "telegram.Dispatch")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while handling update",
				"component", "telegram_dispatcher",
				"update_id", update.UpdateID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			telemetry.ApplicationErrorsTotal.Add(ctx, 1, api.WithAttributes(
				attribute.String("component", "telegram_dispatcher"),
				attribute.String("type", "panic")))
			kind = UpdateFailed
		}
		telemetry.WebhookUpdatesTotal.Add(ctx, 1, api.WithAttributes(attribute.String("kind", string(kind))))
	}()

	if d.claimer != nil {
		first, err := d.claimer.ClaimUpdate(ctx, update.UpdateID)
		if err != nil {
			d.logger.Warn("Update dedupe unavailable, processing anyway", "update_id", update.UpdateID, "error", err)
		} else if !first {
			d.logger.Info("Duplicate update skipped", "update_id", update.UpdateID)
			return UpdateDuplicate
		}
	}

	switch {
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
		return UpdateMessage
	case update.ChatMember != nil:
		d.handleChatMember(ctx, update.ChatMember)
		return UpdateChatMember
	default:
		d.logger.Debug("Update ignored", "update_id", update.UpdateID)
		return UpdateIgnored
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}
	user := NewTelegramUserFromAPI(message.From)

	d.logger.Info("Received message",
		"component", "telegram_bot",
		"user_id", user.ID,
		"chat_id", message.Chat.ID,
		"command", message.Command())

	if !message.IsCommand() {
		return
	}

	cmd, ok := d.commands.Get(message.Command())
	if !ok {
		if err := d.messenger.SendHTML(message.Chat.ID, d.templates.RenderMessage("unknown_command", user.Locale())); err != nil {
			d.logger.Warn("Failed to answer unknown command", "error", err)
		}
		return
	}

	if err := cmd.Handle(ctx, message, user); err != nil {
		telemetry.TelegramErrorsTotal.Add(ctx, 1, api.WithAttributes(attribute.String("operation", "command_"+cmd.Name())))
		d.logger.Error("Command failed",
			"component", "telegram_bot",
			"command", cmd.Name(),
			"user_id", user.ID,
			"error", err)
	}
}

func (d *Dispatcher) handleChatMember(ctx context.Context, change *tgbotapi.ChatMemberUpdated) {
	member := change.NewChatMember.User
	if member == nil {
		member = &change.From
	}

	upd := membership.Update{
		ChannelID:      change.Chat.ID,
		TelegramUserID: strconv.FormatInt(member.ID, 10),
		OldStatus:      change.OldChatMember.Status,
		NewStatus:      change.NewChatMember.Status,
	}

	transition, err := d.members.ApplyMembershipUpdate(ctx, upd)
	if err != nil {
		d.logger.Error("Failed to apply membership update",
			"component", "telegram_dispatcher",
			"channel_id", upd.ChannelID,
			"telegram_user_id", upd.TelegramUserID,
			"error", err)
		return
	}

	d.logger.Debug("Membership update applied",
		"channel_id", upd.ChannelID,
		"telegram_user_id", upd.TelegramUserID,
		"transition", transition.String())
}
