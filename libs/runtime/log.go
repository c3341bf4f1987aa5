package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/barberdesk/barberdesk/libs/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls where and how verbosely a service logs.
// The zero value logs JSON at info level to stdout only.
type LogOptions struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func NewLogger(service string, opts ...LogOptions) *slog.Logger {
	var o LogOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	var w io.Writer = os.Stdout
	if o.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    nonZero(o.MaxSizeMB, 50),
			MaxBackups: nonZero(o.MaxBackups, 5),
			Compress:   true,
		})
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(o.Level),
	})
	return slog.New(h).With("service", service)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// LogOptionsFromEnv reads LOG_LEVEL, LOG_FILE, LOG_MAX_SIZE_MB and LOG_MAX_BACKUPS.
func LogOptionsFromEnv() LogOptions {
	return LogOptions{
		Level:      config.String("LOG_LEVEL", "info"),
		File:       config.String("LOG_FILE", ""),
		MaxSizeMB:  config.Int("LOG_MAX_SIZE_MB", 50, 1),
		MaxBackups: config.Int("LOG_MAX_BACKUPS", 5, 0),
	}
}
