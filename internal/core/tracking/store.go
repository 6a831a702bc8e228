package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/infra/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store persists click records.
type Store interface {
	InsertClick(ctx context.Context, click *ClickRecord) error
	// UpdateCookies sets fbc/fbp on every record of the (message, user) pair
	// clicked at or after since. Nil values keep what is stored.
	UpdateCookies(ctx context.Context, welcomeMessageID, telegramUserID string, fbc, fbp *string, since time.Time) (int64, error)
	// LatestClickSince returns the newest record of the user across all
	// messages clicked at or after since, or nil.
	LatestClickSince(ctx context.Context, telegramUserID string, since time.Time) (*ClickRecord, error)
	GetClick(ctx context.Context, id uuid.UUID) (*ClickRecord, error)
}

// PostgresStore implements Store on the click_records table.
type PostgresStore struct {
	db postgres.DB
}

func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const clickColumns = `id, welcome_message_id, telegram_user_id, original_url, fbclid, fbc, fbp, user_agent, ip_address, clicked_at`

func scanClick(row pgx.Row) (*ClickRecord, error) {
	var c ClickRecord
	err := row.Scan(
		&c.ID,
		&c.WelcomeMessageID,
		&c.TelegramUserID,
		&c.OriginalURL,
		&c.FBClid,
		&c.FBC,
		&c.FBP,
		&c.UserAgent,
		&c.IPAddress,
		&c.ClickedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) InsertClick(ctx context.Context, click *ClickRecord) error {
	ctx, span := tracer.Start(ctx, "tracking.InsertClick")
	defer span.End()

	query := `
		INSERT INTO click_records (` + clickColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		click.ID,
		click.WelcomeMessageID,
		click.TelegramUserID,
		click.OriginalURL,
		click.FBClid,
		click.UserAgent,
		click.IPAddress,
		click.ClickedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert click for user %s: %w", click.TelegramUserID, err)
	}

	return nil
}

func (s *PostgresStore) UpdateCookies(ctx context.Context, welcomeMessageID, telegramUserID string, fbc, fbp *string, since time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "tracking.UpdateCookies")
	defer span.End()

	query := `
		UPDATE click_records
		SET fbc = COALESCE($3, fbc), fbp = COALESCE($4, fbp)
		WHERE welcome_message_id = $1
		  AND telegram_user_id = $2
		  AND clicked_at >= $5
	`

	tag, err := s.db.Exec(ctx, query, welcomeMessageID, telegramUserID, fbc, fbp, since)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to update cookies for user %s: %w", telegramUserID, err)
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LatestClickSince(ctx context.Context, telegramUserID string, since time.Time) (*ClickRecord, error) {
	ctx, span := tracer.Start(ctx, "tracking.LatestClickSince")
	defer span.End()

	query := `
		SELECT ` + clickColumns + `
		FROM click_records
		WHERE telegram_user_id = $1 AND clicked_at >= $2
		ORDER BY clicked_at DESC
		LIMIT 1
	`

	click, err := scanClick(s.db.QueryRow(ctx, query, telegramUserID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get latest click for user %s: %w", telegramUserID, err)
	}

	return click, nil
}

func (s *PostgresStore) GetClick(ctx context.Context, id uuid.UUID) (*ClickRecord, error) {
	ctx, span := tracer.Start(ctx, "tracking.GetClick")
	defer span.End()

	click, err := scanClick(s.db.QueryRow(ctx, `SELECT `+clickColumns+` FROM click_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get click %s: %w", id, err)
	}

	return click, nil
}
