package conversion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const actionSourceWebsite = "website"

// Event is a server-side event in the Conversions API format.
type Event struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id,omitempty"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
}

// UserData carries the matching keys. fbc/fbp are sent as-is, external_id
// must be SHA-256 hashed.
type UserData struct {
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
}

// CustomData identifies the channel join the event reports.
type CustomData struct {
	ContentName      string `json:"content_name,omitempty"`
	ChannelID        string `json:"channel_id,omitempty"`
	TelegramUserID   string `json:"telegram_user_id,omitempty"`
	WelcomeMessageID string `json:"welcome_message_id,omitempty"`
	ClickID          string `json:"click_id,omitempty"`
}

type eventsRequest struct {
	Data          []Event `json:"data"`
	TestEventCode string  `json:"test_event_code,omitempty"`
	AccessToken   string  `json:"access_token"`
}

type eventsResponse struct {
	EventsReceived int    `json:"events_received"`
	FBTraceID      string `json:"fbtrace_id"`
	Error          *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error,omitempty"`
}

func hashIdentifier(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}
