package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("users-service")

var ErrUserNotFound = errors.New("user not found")

// ChannelStatus is the user's membership in the tracked channel.
type ChannelStatus string

const (
	ChannelNotJoined ChannelStatus = "not_joined"
	ChannelJoined    ChannelStatus = "joined"
	ChannelLeft      ChannelStatus = "left"
)

type User struct {
	TelegramUserID  string        `json:"telegram_user_id" db:"telegram_user_id"`
	Username        *string       `json:"username" db:"username"`
	FirstName       *string       `json:"first_name" db:"first_name"`
	LastName        *string       `json:"last_name" db:"last_name"`
	ChannelStatus   ChannelStatus `json:"channel_status" db:"channel_status"`
	ChannelJoinedAt *time.Time    `json:"channel_joined_at" db:"channel_joined_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// DisplayName picks the friendliest name available.
func (u *User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" {
		if u.LastName != nil && *u.LastName != "" {
			return *u.FirstName + " " + *u.LastName
		}
		return *u.FirstName
	}
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return "User_" + u.TelegramUserID
}

type RegistrationRequest struct {
	TelegramUserID string
	Username       string
	FirstName      string
	LastName       string
}

type Service struct {
	db postgres.DB
}

func NewService(db postgres.DB) *Service {
	return &Service{db: db}
}

const userColumns = `telegram_user_id, username, first_name, last_name, channel_status, channel_joined_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.TelegramUserID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.ChannelStatus,
		&user.ChannelJoinedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUserByTelegramID(ctx context.Context, telegramUserID string) (*User, error) {
	ctx, span := tracer.Start(ctx, "users.GetUserByTelegramID")
	defer span.End()

	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM bot_users WHERE telegram_user_id = $1`, telegramUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user by telegram_user_id %s: %w", telegramUserID, err)
	}

	return user, nil
}

// RegisterUser creates the user or refreshes its profile fields in one
// statement. Channel state is never touched here.
func (s *Service) RegisterUser(ctx context.Context, req RegistrationRequest) (*User, error) {
	ctx, span := tracer.Start(ctx, "users.RegisterUser")
	defer span.End()

	query := `
		INSERT INTO bot_users (telegram_user_id, username, first_name, last_name, channel_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (telegram_user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRow(ctx, query,
		req.TelegramUserID,
		optional(req.Username),
		optional(req.FirstName),
		optional(req.LastName),
		ChannelNotJoined,
	))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to register user %s: %w", req.TelegramUserID, err)
	}

	return user, nil
}

// UpdateChannelStatus persists a membership change. joinedAt is only written
// when non-nil, so leaving keeps the last join time.
func (s *Service) UpdateChannelStatus(ctx context.Context, telegramUserID string, status ChannelStatus, joinedAt *time.Time) error {
	ctx, span := tracer.Start(ctx, "users.UpdateChannelStatus")
	defer span.End()

	query := `
		UPDATE bot_users
		SET channel_status = $2,
		    channel_joined_at = COALESCE($3, channel_joined_at),
		    updated_at = NOW()
		WHERE telegram_user_id = $1
	`

	result, err := s.db.Exec(ctx, query, telegramUserID, status, joinedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update channel status of user %s: %w", telegramUserID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, telegramUserID)
	}

	return nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
