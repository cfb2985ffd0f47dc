package telemetry

import (
	"log/slog"
	"os"
)

// NewLogger creates the gateway's structured logger: JSON to stdout, debug
// level when debug is set, info otherwise.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
