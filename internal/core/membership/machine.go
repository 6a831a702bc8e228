package membership

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/conversion"
	"github.com/PocketPalCo/attribution-service/internal/core/users"
	"github.com/PocketPalCo/attribution-service/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("membership-machine")

// TransitionKind classifies a membership update.
type TransitionKind int

const (
	Ignored TransitionKind = iota
	JoinDetected
	LeaveRecorded
)

func (k TransitionKind) String() string {
	switch k {
	case JoinDetected:
		return "join_detected"
	case LeaveRecorded:
		return "leave_recorded"
	default:
		return "ignored"
	}
}

// Telegram chat member statuses.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// Update is a chat_member change as delivered by the webhook.
type Update struct {
	ChannelID      int64
	TelegramUserID string
	OldStatus      string
	NewStatus      string
}

// UserStore is the part of the users service the machine needs.
type UserStore interface {
	GetUserByTelegramID(ctx context.Context, telegramUserID string) (*users.User, error)
	UpdateChannelStatus(ctx context.Context, telegramUserID string, status users.ChannelStatus, joinedAt *time.Time) error
}

// Converter is invoked on every detected join.
type Converter interface {
	TryFireConversion(ctx context.Context, telegramUserID string) (conversion.Outcome, error)
}

type Machine struct {
	channelID int64
	users     UserStore
	converter Converter
	logger    *slog.Logger
	now       func() time.Time
}

func NewMachine(channelID int64, userStore UserStore, converter Converter, logger *slog.Logger) *Machine {
	return &Machine{
		channelID: channelID,
		users:     userStore,
		converter: converter,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// mapStatus collapses Telegram statuses onto joined/left. ok is false for
// statuses outside the state machine.
func mapStatus(status string) (users.ChannelStatus, bool) {
	switch status {
	case StatusMember, StatusAdministrator, StatusCreator, StatusRestricted:
		return users.ChannelJoined, true
	case StatusLeft, StatusKicked:
		return users.ChannelLeft, true
	default:
		return "", false
	}
}

// ApplyMembershipUpdate moves the user's channel status and triggers the
// conversion correlator on a left -> joined transition. Only users already
// known to the bot are tracked.
func (m *Machine) ApplyMembershipUpdate(ctx context.Context, upd Update) (TransitionKind, error) {
	ctx, span := tracer.Start(ctx, "membership.ApplyMembershipUpdate")
	defer span.End()

	log := m.logger.With(
		"component", "membership",
		"channel_id", upd.ChannelID,
		"telegram_user_id", upd.TelegramUserID,
		"old_status", upd.OldStatus,
		"new_status", upd.NewStatus,
	)

	if upd.ChannelID != m.channelID {
		log.Debug("Membership update for another chat ignored")
		return m.result(ctx, Ignored), nil
	}

	newState, ok := mapStatus(upd.NewStatus)
	if !ok {
		log.Debug("Unrecognised membership status ignored")
		return m.result(ctx, Ignored), nil
	}

	user, err := m.users.GetUserByTelegramID(ctx, upd.TelegramUserID)
	if err != nil {
		span.RecordError(err)
		log.Error("Failed to load user for membership update", "error", err)
		return m.result(ctx, Ignored), err
	}
	if user == nil {
		log.Info("Membership update for unknown user dropped")
		return m.result(ctx, Ignored), nil
	}

	switch newState {
	case users.ChannelJoined:
		oldState, known := mapStatus(upd.OldStatus)
		if !known || oldState != users.ChannelLeft {
			log.Debug("Membership change without a prior leave, no join detected")
			return m.result(ctx, Ignored), nil
		}

		joinedAt := m.now().UTC()
		if err := m.users.UpdateChannelStatus(ctx, upd.TelegramUserID, users.ChannelJoined, &joinedAt); err != nil {
			span.RecordError(err)
			log.Error("Failed to persist channel join", "error", err)
			return m.result(ctx, Ignored), err
		}
		log.Info("Channel join detected", "previous_status", user.ChannelStatus)

		outcome, err := m.converter.TryFireConversion(ctx, upd.TelegramUserID)
		if err != nil {
			span.RecordError(err)
			log.Error("Conversion attempt failed", "error", err)
		} else {
			log.Info("Conversion attempt finished", "outcome", outcome.String())
		}
		return m.result(ctx, JoinDetected), nil

	default:
		if err := m.users.UpdateChannelStatus(ctx, upd.TelegramUserID, users.ChannelLeft, nil); err != nil {
			span.RecordError(err)
			log.Error("Failed to persist channel leave", "error", err)
			return m.result(ctx, Ignored), err
		}
		log.Info("Channel leave recorded")
		return m.result(ctx, LeaveRecorded), nil
	}
}

func (m *Machine) result(ctx context.Context, kind TransitionKind) TransitionKind {
	telemetry.MembershipTransitionsTotal.Add(ctx, 1, api.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("channel_id", strconv.FormatInt(m.channelID, 10)),
	))
	return kind
}
