package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	defaultLogger atomic.Pointer[slog.Logger]
	once          sync.Once
)

// Options controls how the process-wide logger is built.
type Options struct {
	Debug  bool
	Format string // text or json
	Output io.Writer
}

// Init initializes the global logger based on environment variables.
// DEBUG=true enables debug level logging, LOG_FORMAT=json switches to JSON output.
func Init() {
	InitWithOptions(Options{
		Debug:  os.Getenv("DEBUG") == "true",
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// InitWithOptions initializes the global logger once. Later calls are no-ops,
// so the first caller (normally main, after configuration is loaded) wins.
func InitWithOptions(o Options) {
	once.Do(func() {
		l := build(o)
		slog.SetDefault(l)
		defaultLogger.Store(l)
	})
}

func build(o Options) *slog.Logger {
	level := slog.LevelInfo
	if o.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source file information if in debug mode
		AddSource: level == slog.LevelDebug,
	}

	out := o.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if o.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func get() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	Init()
	return defaultLogger.Load()
}

// Debug logs at Debug level.
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs at Info level.
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs at Warn level.
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs at Error level.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// Fatal logs at Error level and then exits.
func Fatal(msg string, args ...any) {
	get().Error(msg, args...)
	os.Exit(1)
}
