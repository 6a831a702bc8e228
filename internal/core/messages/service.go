package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("messages-service")

// WelcomeMessage is the message and link button a user receives on /start.
// Its button URL is the destination of every click attributed to it.
type WelcomeMessage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Text       string    `json:"text" db:"text"`
	ButtonText string    `json:"button_text" db:"button_text"`
	ButtonURL  string    `json:"button_url" db:"button_url"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasButton reports whether the message carries a link to track.
func (m *WelcomeMessage) HasButton() bool {
	return m.ButtonURL != ""
}

type Service struct {
	db postgres.DB
}

func NewService(db postgres.DB) *Service {
	return &Service{db: db}
}

const selectColumns = `id, text, button_text, button_url, is_active, created_at, updated_at`

func scanMessage(row pgx.Row) (*WelcomeMessage, error) {
	var m WelcomeMessage
	err := row.Scan(&m.ID, &m.Text, &m.ButtonText, &m.ButtonURL, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID returns nil, nil when the id is unknown or not a valid uuid.
func (s *Service) GetByID(ctx context.Context, id string) (*WelcomeMessage, error) {
	ctx, span := tracer.Start(ctx, "messages.GetByID")
	defer span.End()

	messageID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	m, err := scanMessage(s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM welcome_messages WHERE id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get welcome message %s: %w", id, err)
	}

	return m, nil
}

// GetActive returns the most recently created active welcome message, or nil.
func (s *Service) GetActive(ctx context.Context) (*WelcomeMessage, error) {
	ctx, span := tracer.Start(ctx, "messages.GetActive")
	defer span.End()

	m, err := scanMessage(s.db.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM welcome_messages
		WHERE is_active = true
		ORDER BY created_at DESC
		LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get active welcome message: %w", err)
	}

	return m, nil
}
