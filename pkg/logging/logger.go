package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

// InitLogging initializes logging
func InitLogging(level, format string) {
	current.Store(New(os.Stdout, level, format))
	slog.SetDefault(Logger())
}

// New builds a logger writing to w. Format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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

// Logger returns the process logger
func Logger() *slog.Logger {
	return current.Load()
}

// SetLogger replaces the process logger
func SetLogger(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	Logger().Debug(fmt.Sprintf(format, v...))
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	Logger().Info(fmt.Sprintf(format, v...))
}

// Warnf logs warn level messages
func Warnf(format string, v ...interface{}) {
	Logger().Warn(fmt.Sprintf(format, v...))
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	Logger().Error(fmt.Sprintf(format, v...))
}
