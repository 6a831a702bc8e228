package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/PocketPalCo/attribution-service/internal/core/telegram"
	"github.com/PocketPalCo/attribution-service/internal/core/tracking"
	"github.com/PocketPalCo/attribution-service/internal/testutil"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessageID = "8f2c3a5e-6a1b-4c55-9d1e-2b7f0a9c4d11"

type recordingDispatcher struct {
	mu       sync.Mutex
	updates  []tgbotapi.Update
	deadline bool
	panics   bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) telegram.UpdateKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, d.deadline = ctx.Deadline()
	d.updates = append(d.updates, update)
	return telegram.UpdateIgnored
}

type failingTracker struct{}

func (failingTracker) RecordClick(context.Context, tracking.ClickRequest) (*tracking.ClickRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingTracker) CompleteClickCookies(context.Context, tracking.CookieRequest) (int64, error) {
	return 0, errors.New("connection refused")
}

type fixture struct {
	app        *fiber.App
	clicks     *testutil.ClickStore
	clock      *testutil.Clock
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	clicks := testutil.NewClickStore()

	trackingService := tracking.NewService(clicks, testutil.Messages{
		testMessageID: &messages.WelcomeMessage{
			ID:         uuid.MustParse(testMessageID),
			ButtonText: "Open",
			ButtonURL:  "https://example.com/landing?utm_source=tg",
			IsActive:   true,
		},
	}, tracking.DefaultCookieWindow, logger)
	trackingService.SetClock(clock.Now)

	page, err := newRedirectPage()
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	h := &handlers{
		clicks:        trackingService,
		dispatcher:    dispatcher,
		page:          page,
		pixelID:       "1234567890",
		webhookSecret: secret,
		processBudget: 5 * time.Second,
		logger:        logger,
	}

	app := fiber.New(cfg.Fiber())
	registerHttpRoutes(app, &cfg, nil, h)

	return &fixture{app: app, clicks: clicks, clock: clock, dispatcher: dispatcher}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")

	resp, body := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestRedirect_RendersPixelPage(t *testing.T) {
	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodGet, "/r/"+testMessageID+"/42?fbclid=IwAR0abc", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, body := f.do(t, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, "fbevents.js")
	assert.Contains(t, body, "1234567890")
	assert.Contains(t, body, "/api/click/cookies")
	assert.Contains(t, body, "IwAR0abc")

	require.Equal(t, 1, f.clicks.Len())
	click, err := f.clicks.LatestClickSince(context.Background(), "42", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, click)
	require.NotNil(t, click.FBClid)
	assert.Equal(t, "IwAR0abc", *click.FBClid)
	require.NotNil(t, click.UserAgent)
	assert.Equal(t, "Mozilla/5.0", *click.UserAgent)
	assert.Equal(t, f.clock.Now(), click.ClickedAt)
}

func TestRedirect_Direct(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/r/"+testMessageID+"/42?fbclid=xyz&direct=1", nil))

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.Contains(t, location, "https://example.com/landing?")
	assert.Contains(t, location, "fbclid=xyz")
	assert.Contains(t, location, "utm_source=tg")
}

func TestRedirect_EveryVisitRecorded(t *testing.T) {
	f := newFixture(t, "")

	for i := 0; i < 3; i++ {
		resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/r/"+testMessageID+"/42?direct=1", nil))
		require.Equal(t, http.StatusFound, resp.StatusCode)
		f.clock.Advance(time.Second)
	}

	assert.Equal(t, 3, f.clicks.Len())
}

func TestRedirect_UnknownMessage(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/r/"+uuid.NewString()+"/42", nil))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, f.clicks.Len())
}

func TestRedirect_StoreFailure(t *testing.T) {
	f := newFixture(t, "")
	f.clicks.Err = errors.New("connection refused")

	resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/r/"+testMessageID+"/42", nil))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestClickCookies_CompletesRecentClick(t *testing.T) {
	f := newFixture(t, "")
	resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/r/"+testMessageID+"/42?direct=1", nil))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	f.clock.Advance(30 * time.Second)
	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/click/cookies",
		`{"welcome_message_id":"`+testMessageID+`","telegram_user_id":"42","fbc":"fb.1.1.abc","fbp":"fb.1.1.123"}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body)

	click, err := f.clicks.LatestClickSince(context.Background(), "42", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, click)
	assert.True(t, click.HasCookies())
}

func TestClickCookies_NoMatchStillOK(t *testing.T) {
	f := newFixture(t, "")

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/click/cookies",
		`{"welcome_message_id":"`+testMessageID+`","telegram_user_id":"42","fbc":"a","fbp":"b"}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body)
	assert.Equal(t, 0, f.clicks.Len())
}

func TestClickCookies_StoreFailureStillOK(t *testing.T) {
	f := newFixture(t, "")
	f.clicks.Err = errors.New("connection refused")

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/click/cookies",
		`{"welcome_message_id":"`+testMessageID+`","telegram_user_id":"42","fbc":"a"}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestClickCookies_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"welcome_message_id":`},
		{name: "missing user", body: `{"welcome_message_id":"` + testMessageID + `","fbc":"a"}`},
		{name: "missing message", body: `{"telegram_user_id":"42","fbp":"b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			resp, _ := f.do(t, jsonRequest(http.MethodPost, "/api/click/cookies", tt.body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestClickCookies_InvalidRejectedBeforeStore(t *testing.T) {
	f := newFixture(t, "")
	f.clicks.Err = errors.New("connection refused")

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/click/cookies", `{"welcome_message_id":"`+testMessageID+`","fbc":"a"}`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"ok":false,"error":"invalid body"}`, body)
}

func TestWebhook_DispatchesUpdate(t *testing.T) {
	f := newFixture(t, "")
	update := tgbotapi.Update{
		UpdateID: 77,
		ChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: -100123, Type: "channel"},
			OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 42}, Status: "left"},
			NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 42}, Status: "member"},
		},
	}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	resp, _ := f.do(t, jsonRequest(http.MethodPost, "/telegram/webhook", string(payload)))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.dispatcher.updates, 1)
	assert.Equal(t, 77, f.dispatcher.updates[0].UpdateID)
	require.NotNil(t, f.dispatcher.updates[0].ChatMember)
	assert.Equal(t, "member", f.dispatcher.updates[0].ChatMember.NewChatMember.Status)
	assert.True(t, f.dispatcher.deadline)
}

func TestWebhook_MalformedBodyAcknowledged(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, jsonRequest(http.MethodPost, "/telegram/webhook", `not json`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.dispatcher.updates)
}

func TestWebhook_SecretToken(t *testing.T) {
	f := newFixture(t, "s3cret")

	resp, _ := f.do(t, jsonRequest(http.MethodPost, "/telegram/webhook", `{"update_id":1}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := jsonRequest(http.MethodPost, "/telegram/webhook", `{"update_id":1}`)
	req.Header.Set(secretTokenHeader, "s3cret")
	resp, _ = f.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.dispatcher.updates, 1)
}

func TestWebhook_BotDisabled(t *testing.T) {
	f := newFixture(t, "")
	cfg := config.DefaultConfig()
	app := fiber.New(cfg.Fiber())
	registerHttpRoutes(app, &cfg, nil, &handlers{
		clicks:   failingTracker{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.app = app

	resp, _ := f.do(t, jsonRequest(http.MethodPost, "/telegram/webhook", `{"update_id":1}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedirectPage_EscapesValues(t *testing.T) {
	page, err := newRedirectPage()
	require.NoError(t, err)

	body, err := page.render(redirectPageData{
		Destination:      "https://example.com/?a=1&b=</script><script>alert(1)</script>",
		CookieEndpoint:   cookieEndpoint,
		WelcomeMessageID: testMessageID,
		TelegramUserID:   "42",
	})
	require.NoError(t, err)

	assert.NotContains(t, string(body), "<script>alert(1)")
	assert.NotContains(t, string(body), "fbevents.js")
}
