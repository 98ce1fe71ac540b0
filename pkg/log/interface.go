// Package log provides a structured logging interface for kittycat.
//
// The Logger interface is slog-compatible so callers can pass key/value
// pairs, while the default implementation is backed by zerolog. Attribute
// keys in attributes.go keep field names consistent across the formatter,
// the attention layers and the evaluation driver.
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.ComponentKey, "evaluation",
//	    log.ExperimentKey, "covid",
//	)
//	logger.Info("checkpoint loaded",
//	    log.RandomSeedKey, 4293,
//	    log.StackSizeKey, 1,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. Values implementing error are
// rendered with their message, and with a stack trace when the error was
// created through pkg/errors.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	Error(msg string, fields ...any)

	// With returns a logger that includes the given fields in every entry.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits entries at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4 // Detailed diagnostic information
	LevelInfo  Level = 0  // General operational information
	LevelWarn  Level = 4  // Warning conditions
	LevelError Level = 8  // Error conditions
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a CLI level name ("debug", "info", "warn", "error").
func ParseLevel(name string) (Level, bool) {
	switch name {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}
