package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production always emits JSON so the
// log pipeline can index decision and sweep events; elsewhere LOG_FORMAT
// picks between json and human-readable text.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg.IsProduction() || (cfg != nil && cfg.LogFormat == "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler).With(slog.String("service", "sherpa"))
}
