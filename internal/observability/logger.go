package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// ParseLevel maps a config level name to a slog level. Unknown names
// select info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// NewLogger builds the process logger from cfg. Output defaults to stderr.
func NewLogger(cfg models.LogConfig, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With("app", "tmsync")
}
