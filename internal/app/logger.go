package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. JSON output is for aggregated
// environments; the text handler reads better on a local terminal. Every
// record carries the service name so shared sinks can filter on it.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler).With(slog.String("service", "warden"))
}
