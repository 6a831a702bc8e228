package telegram

import (
	"strconv"

	"github.com/PocketPalCo/attribution-service/internal/core/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramUser represents a user from Telegram API
type TelegramUser struct {
	ID           int64   `json:"id"`
	Username     *string `json:"username,omitempty"`
	FirstName    string  `json:"first_name"`
	LastName     *string `json:"last_name,omitempty"`
	LanguageCode *string `json:"language_code,omitempty"`
}

// NewTelegramUserFromAPI creates a TelegramUser from Telegram Bot API User
func NewTelegramUserFromAPI(tgUser *tgbotapi.User) *TelegramUser {
	var username *string
	if tgUser.UserName != "" {
		username = &tgUser.UserName
	}

	var lastName *string
	if tgUser.LastName != "" {
		lastName = &tgUser.LastName
	}

	var languageCode *string
	if tgUser.LanguageCode != "" {
		languageCode = &tgUser.LanguageCode
	}

	return &TelegramUser{
		ID:           tgUser.ID,
		Username:     username,
		FirstName:    tgUser.FirstName,
		LastName:     lastName,
		LanguageCode: languageCode,
	}
}

// StringID is the user id as stored by the tracking tables.
func (u *TelegramUser) StringID() string {
	return strconv.FormatInt(u.ID, 10)
}

// Registration converts the Telegram profile into a registration request.
func (u *TelegramUser) Registration() users.RegistrationRequest {
	req := users.RegistrationRequest{
		TelegramUserID: u.StringID(),
		FirstName:      u.FirstName,
	}
	if u.Username != nil {
		req.Username = *u.Username
	}
	if u.LastName != nil {
		req.LastName = *u.LastName
	}
	return req
}

// Locale returns the template locale for the user's client language.
func (u *TelegramUser) Locale() string {
	if u.LanguageCode == nil {
		return NormalizeLocale("")
	}
	return NormalizeLocale(*u.LanguageCode)
}
