package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level name to a slog.Level. Unknown or empty
// names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewHandler builds the handler used by SetupLogger, writing to w.
//
// format "json" selects the JSON handler (production); anything else the text
// handler (local development). Source locations are only added at debug level.
func NewHandler(w io.Writer, format, level string) slog.Handler {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetupLogger installs a stdout logger as the slog default so package-level
// slog.Info/Warn/Error calls pick it up without threading a logger around.
func SetupLogger(format, level string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, format, level)))
	slog.Info("logger initialised", "format", format, "level", ParseLevel(level).String())
}
