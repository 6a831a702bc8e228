package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Environment       string `mapstructure:"ATR_ENVIRONMENT"`
	ServiceName       string `mapstructure:"ATR_SERVICE_NAME"`
	ServerAddress     string `mapstructure:"ATR_SERVER_BIND_ADDR"`
	ServerReadTimeout int16  `mapstructure:"ATR_SERVER_READ_TIMEOUT"`
	PublicBaseURL     string `mapstructure:"ATR_PUBLIC_BASE_URL"` // used to build tracked links
	LogFormat         string `mapstructure:"ATR_LOG_FORMAT"`      // text or json
	LogLevel          string `mapstructure:"ATR_LOG_LEVEL"`       // debug, info, warn, error
	LogExport         bool   `mapstructure:"ATR_LOG_EXPORT"`      // ship logs over OTLP as well
	RateLimitMax      int    `mapstructure:"ATR_RATE_LIMIT_MAX"`
	RateLimitWindow   int    `mapstructure:"ATR_RATE_LIMIT_WINDOW"`

	DbHost           string `mapstructure:"ATR_DB_HOST"`
	DbPort           int16  `mapstructure:"ATR_DB_PORT"`
	DbSSLMode        string `mapstructure:"ATR_DB_SSL"`
	DbUser           string `mapstructure:"ATR_DB_USER"`
	DbPassword       string `mapstructure:"ATR_DB_PASSWORD"`
	DbDatabaseName   string `mapstructure:"ATR_DB_DATABASE"`
	DbMaxConnections int    `mapstructure:"ATR_DB_MAX_CONNECTIONS"`

	// Redis
	RedisHost string `mapstructure:"ATR_REDIS_HOST"`
	RedisPort int16  `mapstructure:"ATR_REDIS_PORT"`
	RedisDb   int    `mapstructure:"ATR_REDIS_DB"`
	RedisUser string `mapstructure:"ATR_REDIS_USER"`
	RedisPass string `mapstructure:"ATR_REDIS_PASS"`

	OtlpEndpoint   string `mapstructure:"ATR_OTLP_ENDPOINT"`
	JaegerEndpoint string `mapstructure:"ATR_JAEGER_ENDPOINT"`

	// Telegram Bot Configuration
	TelegramBotToken      string `mapstructure:"ATR_TELEGRAM_BOT_TOKEN"`
	TelegramDebug         bool   `mapstructure:"ATR_TELEGRAM_DEBUG"`
	TelegramWebhookURL    string `mapstructure:"ATR_TELEGRAM_WEBHOOK_URL"`    // registered on startup when set
	TelegramWebhookSecret string `mapstructure:"ATR_TELEGRAM_WEBHOOK_SECRET"` // X-Telegram-Bot-Api-Secret-Token
	TelegramChannelID     int64  `mapstructure:"ATR_TELEGRAM_CHANNEL_ID"`     // the one channel we attribute joins to

	// Attribution windows, in seconds
	CookieWindow     int `mapstructure:"ATR_COOKIE_WINDOW"`
	ConversionWindow int `mapstructure:"ATR_CONVERSION_WINDOW"`

	// Meta Conversions API
	MetaPixelID        string `mapstructure:"ATR_META_PIXEL_ID"`
	MetaAccessToken    string `mapstructure:"ATR_META_ACCESS_TOKEN"`
	MetaAPIBaseURL     string `mapstructure:"ATR_META_API_BASE_URL"`
	MetaAPIVersion     string `mapstructure:"ATR_META_API_VERSION"`
	MetaTestEventCode  string `mapstructure:"ATR_META_TEST_EVENT_CODE"`
	MetaEventName      string `mapstructure:"ATR_META_EVENT_NAME"`
	ConversionTimeout  int    `mapstructure:"ATR_CONVERSION_TIMEOUT"` // seconds
	ConversionDedupe   bool   `mapstructure:"ATR_CONVERSION_DEDUPE"`
	WebhookProcessTime int    `mapstructure:"ATR_WEBHOOK_PROCESS_TIMEOUT"` // seconds
}

// DefaultConfig generates a config with sane defaults.
func DefaultConfig() Config {
	return Config{
		Environment:       "local",
		ServiceName:       "attribution-service",
		ServerAddress:     "0.0.0.0:3001",
		ServerReadTimeout: 60,
		PublicBaseURL:     "http://localhost:3001",
		LogFormat:         "text",
		LogLevel:          "info",
		LogExport:         false,
		RateLimitMax:      100,
		RateLimitWindow:   30,

		DbHost:           "localhost",
		DbPort:           5432,
		DbSSLMode:        "disable",
		DbUser:           "postgres",
		DbPassword:       "postgres",
		DbDatabaseName:   "attribution",
		DbMaxConnections: 100,

		// Redis
		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDb:   0,
		RedisUser: "",
		RedisPass: "",

		OtlpEndpoint:   "localhost:4317",
		JaegerEndpoint: "http://localhost:14268/api/traces",

		TelegramBotToken:      "",
		TelegramDebug:         false,
		TelegramWebhookURL:    "",
		TelegramWebhookSecret: "",
		TelegramChannelID:     0,

		CookieWindow:     300,
		ConversionWindow: 120,

		MetaPixelID:        "",
		MetaAccessToken:    "",
		MetaAPIBaseURL:     "https://graph.facebook.com",
		MetaAPIVersion:     "v21.0",
		MetaTestEventCode:  "",
		MetaEventName:      "Subscribe",
		ConversionTimeout:  5,
		ConversionDedupe:   false,
		WebhookProcessTime: 10,
	}
}

// LoadConfig will attempt to load a configuration from the default file location and fallback to environment variables.
func LoadConfig() (Config, error) {
	envFile := os.Getenv("ATR_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	var cfg Config
	var err error

	if _, err = os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		cfg, err = ConfigFromEnvironment()
	} else {
		cfg, err = ConfigFromFile(envFile)
	}
	if err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, config Config) {
	v.SetDefault("ATR_ENVIRONMENT", config.Environment)
	v.SetDefault("ATR_SERVICE_NAME", config.ServiceName)
	v.SetDefault("ATR_SERVER_BIND_ADDR", config.ServerAddress)
	v.SetDefault("ATR_SERVER_READ_TIMEOUT", config.ServerReadTimeout)
	v.SetDefault("ATR_PUBLIC_BASE_URL", config.PublicBaseURL)
	v.SetDefault("ATR_LOG_LEVEL", config.LogLevel)
	v.SetDefault("ATR_LOG_FORMAT", config.LogFormat)
	v.SetDefault("ATR_LOG_EXPORT", config.LogExport)
	v.SetDefault("ATR_RATE_LIMIT_MAX", config.RateLimitMax)
	v.SetDefault("ATR_RATE_LIMIT_WINDOW", config.RateLimitWindow)
	v.SetDefault("ATR_DB_HOST", config.DbHost)
	v.SetDefault("ATR_DB_PORT", config.DbPort)
	v.SetDefault("ATR_DB_SSL", config.DbSSLMode)
	v.SetDefault("ATR_DB_USER", config.DbUser)
	v.SetDefault("ATR_DB_PASSWORD", config.DbPassword)
	v.SetDefault("ATR_DB_DATABASE", config.DbDatabaseName)
	v.SetDefault("ATR_DB_MAX_CONNECTIONS", config.DbMaxConnections)
	v.SetDefault("ATR_REDIS_HOST", config.RedisHost)
	v.SetDefault("ATR_REDIS_PORT", config.RedisPort)
	v.SetDefault("ATR_REDIS_USER", config.RedisUser)
	v.SetDefault("ATR_REDIS_PASS", config.RedisPass)
	v.SetDefault("ATR_REDIS_DB", config.RedisDb)
	v.SetDefault("ATR_OTLP_ENDPOINT", config.OtlpEndpoint)
	v.SetDefault("ATR_JAEGER_ENDPOINT", config.JaegerEndpoint)
	v.SetDefault("ATR_TELEGRAM_BOT_TOKEN", config.TelegramBotToken)
	v.SetDefault("ATR_TELEGRAM_DEBUG", config.TelegramDebug)
	v.SetDefault("ATR_TELEGRAM_WEBHOOK_URL", config.TelegramWebhookURL)
	v.SetDefault("ATR_TELEGRAM_WEBHOOK_SECRET", config.TelegramWebhookSecret)
	v.SetDefault("ATR_TELEGRAM_CHANNEL_ID", config.TelegramChannelID)
	v.SetDefault("ATR_COOKIE_WINDOW", config.CookieWindow)
	v.SetDefault("ATR_CONVERSION_WINDOW", config.ConversionWindow)
	v.SetDefault("ATR_META_PIXEL_ID", config.MetaPixelID)
	v.SetDefault("ATR_META_ACCESS_TOKEN", config.MetaAccessToken)
	v.SetDefault("ATR_META_API_BASE_URL", config.MetaAPIBaseURL)
	v.SetDefault("ATR_META_API_VERSION", config.MetaAPIVersion)
	v.SetDefault("ATR_META_TEST_EVENT_CODE", config.MetaTestEventCode)
	v.SetDefault("ATR_META_EVENT_NAME", config.MetaEventName)
	v.SetDefault("ATR_CONVERSION_TIMEOUT", config.ConversionTimeout)
	v.SetDefault("ATR_CONVERSION_DEDUPE", config.ConversionDedupe)
	v.SetDefault("ATR_WEBHOOK_PROCESS_TIMEOUT", config.WebhookProcessTime)
}

// ConfigFromEnvironment will look for the specified configuration from environment variables.
func ConfigFromEnvironment() (config Config, err error) {
	config = DefaultConfig()
	v := viper.New()
	setDefaults(v, config)

	// Override config values with environment variables
	v.AutomaticEnv()
	err = v.Unmarshal(&config)
	return
}

// ConfigFromFile will look for the specified configuration file and initialize
// a Config from it. Values provided by environment variables will override ones found in
// the file.
func ConfigFromFile(f string) (config Config, err error) {
	config = DefaultConfig()
	v := viper.New()
	setDefaults(v, config)

	v.AddConfigPath(".")
	v.SetConfigFile(f)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.CookieWindow <= 0 {
		return fmt.Errorf("ATR_COOKIE_WINDOW must be positive, got %d", c.CookieWindow)
	}
	if c.ConversionWindow <= 0 {
		return fmt.Errorf("ATR_CONVERSION_WINDOW must be positive, got %d", c.ConversionWindow)
	}
	if c.ConversionTimeout <= 0 {
		return fmt.Errorf("ATR_CONVERSION_TIMEOUT must be positive, got %d", c.ConversionTimeout)
	}
	if c.WebhookProcessTime <= 0 {
		return fmt.Errorf("ATR_WEBHOOK_PROCESS_TIMEOUT must be positive, got %d", c.WebhookProcessTime)
	}
	if c.TelegramBotToken != "" && c.TelegramChannelID == 0 {
		return errors.New("ATR_TELEGRAM_CHANNEL_ID is required when the bot is enabled")
	}
	if _, err := url.Parse(c.PublicBaseURL); err != nil {
		return fmt.Errorf("invalid ATR_PUBLIC_BASE_URL: %w", err)
	}
	return nil
}

// Fiber initializes and returns a Fiber config based on server config values.
// See https://docs.gofiber.io/api/fiber#config
func (c Config) Fiber() fiber.Config {
	return fiber.Config{
		AppName:     c.ServiceName,
		ReadTimeout: time.Second * time.Duration(c.ServerReadTimeout),
		BodyLimit:   1 * 1024 * 1024, // 1MB, webhook and cookie bodies are tiny
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	}
}

// DbConnectionString generates a connection string for the database based on config values.
func (c Config) DbConnectionString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s", c.DbUser, url.QueryEscape(c.DbPassword), c.DbHost, c.DbPort, c.DbDatabaseName, c.DbSSLMode)
}

// RedisAddr returns host:port for the redis client.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// GetSlogLevel converts the string log level to slog.Level.
func (c Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetWindows returns the cookie completion and conversion eligibility windows.
func (c Config) GetWindows() WindowsConfig {
	return WindowsConfig{
		Cookie:     time.Duration(c.CookieWindow) * time.Second,
		Conversion: time.Duration(c.ConversionWindow) * time.Second,
	}
}

// WindowsConfig holds the freshness windows of the pipeline
type WindowsConfig struct {
	Cookie     time.Duration
	Conversion time.Duration
}

// GetConversionConfig converts config values to Conversions API configuration struct.
func (c Config) GetConversionConfig() ConversionConfig {
	return ConversionConfig{
		PixelID:       c.MetaPixelID,
		AccessToken:   c.MetaAccessToken,
		BaseURL:       strings.TrimRight(c.MetaAPIBaseURL, "/"),
		APIVersion:    c.MetaAPIVersion,
		TestEventCode: c.MetaTestEventCode,
		EventName:     c.MetaEventName,
		Timeout:       time.Duration(c.ConversionTimeout) * time.Second,
		Dedupe:        c.ConversionDedupe,
	}
}

// ConversionConfig holds Meta Conversions API client configuration
type ConversionConfig struct {
	PixelID       string
	AccessToken   string
	BaseURL       string
	APIVersion    string // e.g. "v21.0"
	TestEventCode string // only set while validating events in Events Manager
	EventName     string
	Timeout       time.Duration
	Dedupe        bool
}

// Enabled reports whether enough is configured to submit events.
func (cc ConversionConfig) Enabled() bool {
	return cc.PixelID != "" && cc.AccessToken != ""
}
