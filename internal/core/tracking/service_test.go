package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	clicks    []*ClickRecord
	insertErr error
}

func (m *memoryStore) InsertClick(_ context.Context, click *ClickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *click
	m.clicks = append(m.clicks, &cp)
	return nil
}

func (m *memoryStore) UpdateCookies(_ context.Context, messageID, userID string, fbc, fbp *string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.clicks {
		if c.WelcomeMessageID != messageID || c.TelegramUserID != userID || c.ClickedAt.Before(since) {
			continue
		}
		if fbc != nil {
			c.FBC = fbc
		}
		if fbp != nil {
			c.FBP = fbp
		}
		n++
	}
	return n, nil
}

func (m *memoryStore) LatestClickSince(_ context.Context, userID string, since time.Time) (*ClickRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *ClickRecord
	for _, c := range m.clicks {
		if c.TelegramUserID != userID || c.ClickedAt.Before(since) {
			continue
		}
		if latest == nil || c.ClickedAt.After(latest.ClickedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memoryStore) GetClick(_ context.Context, id uuid.UUID) (*ClickRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clicks {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

type stubMessages map[string]*messages.WelcomeMessage

func (s stubMessages) GetByID(_ context.Context, id string) (*messages.WelcomeMessage, error) {
	return s[id], nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const (
	testMessageID = "8f2c3a5e-6a1b-4c55-9d1e-2b7f0a9c4d11"
	testUserID    = "100200300"
)

func newTestService(t *testing.T) (*Service, *memoryStore, *fakeClock) {
	t.Helper()
	store := &memoryStore{}
	lookup := stubMessages{
		testMessageID: {ButtonURL: "https://example.com/landing?ref=bot", ButtonText: "Open"},
		"no-button":   {ButtonURL: ""},
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, lookup, DefaultCookieWindow, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = clock.Now
	return svc, store, clock
}

func strPtr(s string) *string { return &s }

func TestRecordClick_CreatesNewRecordPerVisit(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.RecordClick(ctx, ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), first.ClickedAt)
	assert.Equal(t, "https://example.com/landing?ref=bot", first.OriginalURL)
	assert.Nil(t, first.FBClid)

	clock.Advance(10 * time.Second)
	second, err := svc.RecordClick(ctx, ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID, FBClid: strPtr("abc")})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, store.clicks, 2)
	assert.Equal(t, first.ClickedAt, store.clicks[0].ClickedAt, "earlier record must not be overwritten")
	assert.Equal(t, clock.Now(), store.clicks[1].ClickedAt)
}

func TestRecordClick_Validation(t *testing.T) {
	svc, store, _ := newTestService(t)

	tests := []struct {
		name string
		req  ClickRequest
	}{
		{name: "missing message", req: ClickRequest{TelegramUserID: testUserID}},
		{name: "missing user", req: ClickRequest{WelcomeMessageID: testMessageID}},
		{name: "blank user", req: ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordClick(context.Background(), tt.req)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
	assert.Empty(t, store.clicks)
}

func TestRecordClick_NotFound(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.RecordClick(context.Background(), ClickRequest{WelcomeMessageID: "unknown", TelegramUserID: testUserID})
	assert.True(t, IsNotFound(err))

	_, err = svc.RecordClick(context.Background(), ClickRequest{WelcomeMessageID: "no-button", TelegramUserID: testUserID})
	assert.True(t, IsNotFound(err))

	assert.Empty(t, store.clicks, "nothing is recorded when the destination cannot be resolved")
}

func TestRecordClick_StoreError(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.insertErr = errors.New("connection refused")

	_, err := svc.RecordClick(context.Background(), ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID})
	require.Error(t, err)
	assert.False(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
}

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		name  string
		click ClickRecord
		want  string
	}{
		{
			name:  "no fbclid",
			click: ClickRecord{OriginalURL: "https://example.com/a"},
			want:  "https://example.com/a",
		},
		{
			name:  "fbclid appended",
			click: ClickRecord{OriginalURL: "https://example.com/a", FBClid: strPtr("IwAR0x")},
			want:  "https://example.com/a?fbclid=IwAR0x",
		},
		{
			name:  "existing query kept",
			click: ClickRecord{OriginalURL: "https://example.com/a?ref=bot", FBClid: strPtr("IwAR0x")},
			want:  "https://example.com/a?fbclid=IwAR0x&ref=bot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedirectURL(&tt.click))
		})
	}
}

func TestCompleteClickCookies_NoMatchIsNoop(t *testing.T) {
	svc, store, _ := newTestService(t)

	updated, err := svc.CompleteClickCookies(context.Background(), CookieRequest{
		WelcomeMessageID: testMessageID,
		TelegramUserID:   testUserID,
		FBC:              strPtr("fb.1.1.abc"),
		FBP:              strPtr("fb.1.1.123"),
	})
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Empty(t, store.clicks, "no row is created")
}

func TestCompleteClickCookies_UpdatesAllRecentRecordsOnly(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	req := ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID}

	stale, err := svc.RecordClick(ctx, req)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	recentA, err := svc.RecordClick(ctx, req)
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	recentB, err := svc.RecordClick(ctx, req)
	require.NoError(t, err)

	otherUser, err := svc.RecordClick(ctx, ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: "999"})
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	updated, err := svc.CompleteClickCookies(ctx, CookieRequest{
		WelcomeMessageID: testMessageID,
		TelegramUserID:   testUserID,
		FBC:              strPtr("fb.1.1.abc"),
		FBP:              strPtr("fb.1.1.123"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	for _, id := range []uuid.UUID{recentA.ID, recentB.ID} {
		got, err := svc.GetClick(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.HasCookies())
	}

	got, err := svc.GetClick(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, got.HasCookies(), "record older than the window is untouched")

	got, err = svc.GetClick(ctx, otherUser.ID)
	require.NoError(t, err)
	assert.False(t, got.HasCookies())
	assert.Len(t, store.clicks, 4)
}

func TestCompleteClickCookies_PartialKeepsExisting(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	click, err := svc.RecordClick(ctx, ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID})
	require.NoError(t, err)

	_, err = svc.CompleteClickCookies(ctx, CookieRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID, FBP: strPtr("fb.1.1.123")})
	require.NoError(t, err)
	_, err = svc.CompleteClickCookies(ctx, CookieRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID, FBC: strPtr("fb.1.1.abc"), FBP: strPtr("")})
	require.NoError(t, err)

	got, err := svc.GetClick(ctx, click.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FBP)
	assert.Equal(t, "fb.1.1.123", *got.FBP)
	require.NotNil(t, got.FBC)
	assert.Equal(t, "fb.1.1.abc", *got.FBC)
}

func TestCompleteClickCookies_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CompleteClickCookies(context.Background(), CookieRequest{TelegramUserID: testUserID, FBC: strPtr("x")})
	assert.True(t, IsValidation(err))
}

func TestRecordThenCompleteRoundTrip(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	click, err := svc.RecordClick(ctx, ClickRequest{WelcomeMessageID: testMessageID, TelegramUserID: testUserID, FBClid: strPtr("IwAR0x")})
	require.NoError(t, err)
	clickedAt := click.ClickedAt

	clock.Advance(2 * time.Second)
	updated, err := svc.CompleteClickCookies(ctx, CookieRequest{
		WelcomeMessageID: testMessageID,
		TelegramUserID:   testUserID,
		FBC:              strPtr("fb.1.1.abc"),
		FBP:              strPtr("fb.1.1.123"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	got, err := svc.GetClick(ctx, click.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FBClid)
	assert.Equal(t, "IwAR0x", *got.FBClid)
	assert.Equal(t, "fb.1.1.abc", *got.FBC)
	assert.Equal(t, "fb.1.1.123", *got.FBP)
	assert.Equal(t, clickedAt, got.ClickedAt)
}
