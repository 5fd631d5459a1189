// Package log owns the daemon's structured logging. Output is JSON on
// stderr: stdout is reserved for command results (piston execute prints its
// result there).
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger at the given level. Called once; later
// calls are no-ops.
func Setup(level string) {
	once.Do(func() {
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// parseLevel maps the config's log_level vocabulary onto slog levels.
// Unknown values fall back to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or an info-level one if Setup hasn't
// been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithInvocation returns a logger carrying the plugin and action fields, the
// engine's unit of work.
func WithInvocation(plugin, action string) *slog.Logger {
	return Get().With(slog.String("plugin", plugin), slog.String("action", action))
}

// WithRun returns a logger scoped to one task execution attempt.
func WithRun(taskID string, attempt int) *slog.Logger {
	return Get().With(slog.String("task_id", taskID), slog.Int("attempt", attempt))
}
