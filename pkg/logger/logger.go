package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/PocketPalCo/attribution-service/config"
)

// NewLogger creates the local stdout logger, text or json depending on config
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.GetSlogLevel(),
		AddSource: cfg.GetSlogLevel() == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
