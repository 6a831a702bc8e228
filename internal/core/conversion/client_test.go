package conversion

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *MetaClient {
	return NewMetaClient(config.ConversionConfig{
		PixelID:       "1234567890",
		AccessToken:   "secret-token",
		BaseURL:       baseURL,
		APIVersion:    "v21.0",
		TestEventCode: "TEST123",
		Timeout:       2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMetaClient_Send(t *testing.T) {
	var got eventsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/1234567890/events", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events_received":1,"messages":[],"fbtrace_id":"AbC"}`))
	}))
	defer server.Close()

	event := Event{
		EventName:    "Subscribe",
		EventTime:    1767225600,
		EventID:      "channel_join:1",
		ActionSource: actionSourceWebsite,
		UserData:     UserData{FBC: "fb.1.1.abc", FBP: "fb.1.1.123"},
		CustomData:   CustomData{ChannelID: "-100", TelegramUserID: "42"},
	}

	err := newTestClient(server.URL).Send(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, got.Data, 1)
	assert.Equal(t, "TEST123", got.TestEventCode)
	assert.Equal(t, "secret-token", got.AccessToken)
	assert.Equal(t, event, got.Data[0])
}

func TestMetaClient_SendErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"fbtrace_id":"x"}}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).Send(context.Background(), Event{EventName: "Subscribe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalAPI)
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestMetaClient_SendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := newTestClient(server.URL).Send(ctx, Event{EventName: "Subscribe"})
	assert.ErrorIs(t, err, ErrExternalAPI)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestMetaClient_ClientTimeoutHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.httpClient.Timeout = 50 * time.Millisecond

	err := client.Send(context.Background(), Event{EventName: "Subscribe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalAPI)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.NotContains(t, err.Error(), "access_token")
}

func TestHashIdentifier(t *testing.T) {
	assert.Equal(t, hashIdentifier("42"), hashIdentifier(" 42 "))
	assert.Len(t, hashIdentifier("42"), 64)
}
