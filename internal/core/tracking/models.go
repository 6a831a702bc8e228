package tracking

import (
	"time"

	"github.com/google/uuid"
)

// ClickRecord is one visit to a tracked outbound link. ClickedAt is set on
// insert and never changes; FBC/FBP arrive later from the redirect page.
type ClickRecord struct {
	ID               uuid.UUID `json:"id" db:"id"`
	WelcomeMessageID string    `json:"welcome_message_id" db:"welcome_message_id"`
	TelegramUserID   string    `json:"telegram_user_id" db:"telegram_user_id"`
	OriginalURL      string    `json:"original_url" db:"original_url"`
	FBClid           *string   `json:"fbclid,omitempty" db:"fbclid"`
	FBC              *string   `json:"fbc,omitempty" db:"fbc"`
	FBP              *string   `json:"fbp,omitempty" db:"fbp"`
	UserAgent        *string   `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress        *string   `json:"ip_address,omitempty" db:"ip_address"`
	ClickedAt        time.Time `json:"clicked_at" db:"clicked_at"`
}

// HasCookies reports whether both advertising cookies are present.
func (c *ClickRecord) HasCookies() bool {
	return c.FBC != nil && *c.FBC != "" && c.FBP != nil && *c.FBP != ""
}

// ClickRequest describes a redirect visit.
type ClickRequest struct {
	WelcomeMessageID string `validate:"required,max=64"`
	TelegramUserID   string `validate:"required,max=32"`
	FBClid           *string
	UserAgent        *string
	IPAddress        *string
}

// CookieRequest carries the advertising cookies reported by the redirect page.
type CookieRequest struct {
	WelcomeMessageID string  `json:"welcome_message_id" validate:"required,max=64"`
	TelegramUserID   string  `json:"telegram_user_id" validate:"required,max=32"`
	FBC              *string `json:"fbc" validate:"omitempty,max=512"`
	FBP              *string `json:"fbp" validate:"omitempty,max=512"`
}
