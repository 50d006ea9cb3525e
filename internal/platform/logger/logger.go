// Package logger builds the process slog.Logger: colored console output via
// tint and an optional rotating JSON file via lumberjack, both behind a
// redacting handler.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options defines parameters for logger creation.
type Options struct {
	Env          string
	ConsoleLevel string // default: info
	FileLevel    string // default: debug
	File         string
	App          string
	// Console defaults to os.Stdout.
	Console io.Writer
}

// SensitiveKeys are attribute keys whose values never reach the output.
var SensitiveKeys = []string{"dsn", "password", "token", "secret", "api_key", "postgres_dsn", "redis_password"}

var closers sync.Map

// New creates a configured logger.
func New(o Options) *slog.Logger {
	console := o.Console
	if console == nil {
		console = os.Stdout
	}

	timeFormat := time.RFC3339
	if o.Env == "dev" {
		timeFormat = time.Kitchen
	}
	var consoleHandler slog.Handler = tint.NewHandler(console, &tint.Options{
		Level:      levelFromString(o.ConsoleLevel, slog.LevelInfo),
		TimeFormat: timeFormat,
		NoColor:    o.Env != "dev",
	})

	handlers := []slog.Handler{NewRedactingHandler(consoleHandler, SensitiveKeys)}

	if o.File != "" {
		fw := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		fileHandler := slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: levelFromString(o.FileLevel, slog.LevelDebug)})
		handlers = append(handlers, NewRedactingHandler(fileHandler, SensitiveKeys))

		l := build(handlers, o)
		closers.Store(l, fw.Close)
		return l
	}
	return build(handlers, o)
}

func build(handlers []slog.Handler, o Options) *slog.Logger {
	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = NewMultiHandler(handlers...)
	}
	return slog.New(h).With(
		slog.String("app", o.App),
		slog.String("env", o.Env),
	)
}

// Close releases the log file of a logger created by New.
func Close(logger *slog.Logger) error {
	if c, ok := closers.LoadAndDelete(logger); ok {
		return c.(func() error)()
	}
	return nil
}

func levelFromString(s string, def slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
