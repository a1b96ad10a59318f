package rowbatch

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs the default slog logger for rowbatch.
//
// ROWBATCH_LOG_LEVEL takes DEBUG, INFO, WARN or ERROR (any case, Info when unset or unknown).
// ROWBATCH_LOG_FORMAT=json switches from text to JSON lines, which is what log shippers expect
// from the flush and cache-miss records the batchers emit.
func ConfigureLogging() {
	slog.SetDefault(slog.New(newLogHandler(os.Stdout, os.Getenv("ROWBATCH_LOG_LEVEL"), os.Getenv("ROWBATCH_LOG_FORMAT"))))
}

func newLogHandler(w io.Writer, level, format string) slog.Handler {
	l := slog.LevelInfo
	if level != "" {
		if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			l = slog.LevelInfo
		}
	}
	logLevel.Set(l)
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetLogLevel changes the level of the logger installed by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
