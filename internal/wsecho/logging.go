package wsecho

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a logger writing to w in the configured format.
// A nil w means os.Stderr.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var h slog.Handler
	switch ParseFormat(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel parses debug, info, warn or error in any case.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat returns "json" or "text".
func ParseFormat(s string) string {
	if strings.EqualFold(s, "json") {
		return "json"
	}
	return "text"
}
