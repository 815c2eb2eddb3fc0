// Package log is a small levelled key/value logger. Lines are JSON objects
// written to stderr so request logs and background job logs share a shape.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	level    = new(slog.LevelVar)
	instance = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// SetLevel accepts DEBUG, INFO or ERROR in any case; anything else means INFO.
func SetLevel(l Level) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		level.Set(slog.LevelDebug)
	case LevelError:
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	instance = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	current().Error(msg, append([]any{"err", errString(err)}, kv...)...)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
