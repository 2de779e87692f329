// Package logging configures the process-wide structured logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	mu sync.RWMutex
	l  = slog.Default()
)

type contextKey struct{}

// ParseLevel maps a config string to a slog level. Unknown values are info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Init installs the global logger on stderr. Call once at startup, after
// loading config. Stdout is left for plan output.
func Init(levelStr, format string) *slog.Logger {
	level, ok := ParseLevel(levelStr)
	logger := New(os.Stderr, level, format)
	if !ok {
		logger.Warn("invalid log level, defaulting to info", "configuredLevel", levelStr)
	}
	Set(logger)
	return logger
}

// Set replaces the global logger and slog's default.
func Set(logger *slog.Logger) {
	mu.Lock()
	l = logger
	mu.Unlock()
	slog.SetDefault(logger)
}

// L returns the global logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return l
}

// With returns the global logger with attrs attached.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// WithContext stores logger in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return L()
}
