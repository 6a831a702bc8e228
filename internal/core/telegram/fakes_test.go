package telegram

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/PocketPalCo/attribution-service/internal/core/membership"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/mock"
)

type sentMessage struct {
	ChatID     int64
	Text       string
	ButtonText string
	URL        string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendHTML(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return f.err
}

func (f *fakeMessenger) SendWelcome(chatID int64, text, buttonText, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, ButtonText: buttonText, URL: url})
	return f.err
}

// MockMembership is a mock implementation of MembershipApplier
type MockMembership struct {
	mock.Mock
}

func (m *MockMembership) ApplyMembershipUpdate(ctx context.Context, upd membership.Update) (membership.TransitionKind, error) {
	args := m.Called(ctx, upd)
	return args.Get(0).(membership.TransitionKind), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	command := text
	if i := indexSpace(text); i > 0 {
		command = text[:i]
	}
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ada", UserName: "ada", LanguageCode: "en"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(command)},
		},
	}
}

func indexSpace(s string) int {
	for i, r := range s {
		if r == ' ' {
			return i
		}
	}
	return -1
}
