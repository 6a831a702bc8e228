package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PocketPalCo/attribution-service/config"
	"github.com/goccy/go-json"
)

var ErrExternalAPI = errors.New("conversions api request failed")

// Sender submits a conversion event to the advertising platform.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// MetaClient posts events to the Meta Graph API /{pixel_id}/events endpoint.
type MetaClient struct {
	config     config.ConversionConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewMetaClient(cfg config.ConversionConfig, logger *slog.Logger) *MetaClient {
	return &MetaClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// endpoint must stay free of credentials: the access token goes in the body.
func (c *MetaClient) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/events", c.config.BaseURL, c.config.APIVersion, url.PathEscape(c.config.PixelID))
}

func (c *MetaClient) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(eventsRequest{
		Data:          []Event{event},
		TestEventCode: c.config.TestEventCode,
		AccessToken:   c.config.AccessToken,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrExternalAPI, err)
	}

	var parsed eventsResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return fmt.Errorf("%w: status %d: %s", ErrExternalAPI, resp.StatusCode, msg)
	}

	c.logger.Info("Conversions API accepted event",
		"component", "conversions_api",
		"event_name", event.EventName,
		"event_id", event.EventID,
		"events_received", parsed.EventsReceived,
		"fbtrace_id", parsed.FBTraceID,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

// LogSender stands in for MetaClient when no pixel is configured, so the rest
// of the pipeline behaves the same in development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, event Event) error {
	payload, _ := json.Marshal(event)
	s.logger.Warn("Conversions API not configured, event not submitted",
		"component", "conversions_api",
		"event", string(payload))
	return nil
}
